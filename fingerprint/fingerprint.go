// Package fingerprint computes the deterministic identifier (FP) used as the
// primary key across the cache, the observer registry, and the in-flight
// task set.
//
// FP is a pure function of (method, absolute URL, canonical parameter
// bytes): no clock, no nonce, no per-process salt. Equality of FPs is
// byte-equality of the returned string.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
)

// FP is an opaque, human-loggable identifier: "<url>#<hex-digest>".
type FP string

// URL returns the URL portion embedded in the fingerprint, for logging.
func (f FP) URL() string {
	s := string(f)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '#' {
			return s[:i]
		}
	}
	return s
}

// Digest returns the hex digest portion of the fingerprint.
func (f FP) Digest() string {
	s := string(f)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '#' {
			return s[i+1:]
		}
	}
	return ""
}

// Compute derives the fingerprint of a (method, url, params) triple.
//
// params is marshaled via the canonical JSON encoder (sorted object keys,
// the default encoding/json behavior for maps plus an explicit key sort for
// nested maps so two equal parameter sets always produce identical bytes
// regardless of map iteration order). If marshaling fails, Compute falls
// back to a documented 64-bit FNV-1a structural hash over fmt-rendered
// params so fingerprint generation never aborts; a warning is logged.
func Compute(method, url string, params interface{}) FP {
	canon, err := canonicalJSON(params)
	if err != nil {
		log.Printf("[WARN] fingerprint: canonical encode failed, falling back to structural hash: %v", err)
		canon = structuralFallback(params)
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(canon)

	return FP(url + "#" + hex.EncodeToString(h.Sum(nil)))
}

// canonicalJSON marshals v to JSON with map keys sorted at every level, so
// semantically-identical parameter sets always serialize to identical bytes.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		// raw came from json.Marshal, so this does not happen in practice;
		// fall back to the original bytes.
		return raw, nil
	}

	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')

			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}

// structuralFallback produces a deterministic 64-bit FNV-1a hash over the
// Go-syntax representation of params. Used only when JSON encoding fails
// (e.g. a parameter type carrying a channel or func field).
func structuralFallback(params interface{}) []byte {
	hasher := fnv.New64a()
	hasher.Write([]byte(structuralRepr(params)))
	sum := hasher.Sum64()
	return []byte{
		byte(sum >> 56), byte(sum >> 48), byte(sum >> 40), byte(sum >> 32),
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	}
}

// structuralRepr renders v via fmt's Go-syntax verb. This is only reached
// when v could not be marshaled to JSON at all, so it is best-effort: the
// goal is a stable fallback, not a canonical encoding.
func structuralRepr(v interface{}) string {
	return fmt.Sprintf("%#v", v)
}
