// Package descriptor defines the external contract a consumer implements
// for each request type (spec.md §6). The core never constructs a
// Descriptor; it only calls the methods below while processing a Network
// Task (C11) or an Orchestrator entry point (C12).
package descriptor

import "net/url"

// Method is an HTTP method, transmitted verbatim (spec.md §6, "Method
// set").
type Method string

const (
	GET     Method = "GET"
	HEAD    Method = "HEAD"
	POST    Method = "POST"
	PUT     Method = "PUT"
	DELETE  Method = "DELETE"
	TRACE   Method = "TRACE"
	OPTIONS Method = "OPTIONS"
	CONNECT Method = "CONNECT"
	PATCH   Method = "PATCH"
)

// Params is implemented by a request's parameter type: hashable (used in
// fingerprinting) and JSON-serializable by default, with hooks to
// translate into a query string and/or a request body.
type Params interface {
	// AsQuery returns the query parameters to attach to the URL, or nil.
	AsQuery() (url.Values, error)
	// AsBody returns the raw request body bytes, or nil for no body.
	AsBody() ([]byte, error)
}

// QueueConcurrency mirrors queue.ConcurrencyPolicy's four shapes so that
// descriptor does not import the queue package; the Orchestrator
// translates between the two.
type QueueConcurrency int

const (
	QueueDefault QueueConcurrency = iota
	QueueSerial
	QueueUnlimited
	QueueLimited // paired with QueueLimitN
)

// QueuePolicy names the Named Queue a request type routes to, plus its
// concurrency shape.
type QueuePolicy struct {
	Name        string
	Concurrency QueueConcurrency
	LimitN      int // meaningful only when Concurrency == QueueLimited
}

// MergePolicyKind is the descriptor's default-Always merge opt-in (spec.md
// §6, "mergePolicy: MergePolicy (default Always)"). MergeCustom defers the
// match decision to the descriptor's own CustomMergePredicate instead of
// merging unconditionally on id match.
type MergePolicyKind int

const (
	MergeAlways MergePolicyKind = iota
	MergeNever
	MergeCustom
)

// CustomMergePredicate is implemented alongside Descriptor by a request type
// whose MergePolicy() returns MergeCustom (spec.md §4, "Custom(predicate(descriptor))").
// ShouldMerge is consulted in addition to the id match already required to
// reach it, and receives both requests' params so the predicate can inspect
// either side before approving the merge.
type CustomMergePredicate[P Params] interface {
	ShouldMerge(newParams, existingParams P) bool
}

// Descriptor is the generic per-request-type contract: P is the params
// type, R is the decoded response type.
type Descriptor[P Params, R any] interface {
	Method() Method
	Scheme() string // always "https" per spec.md §6, exposed for completeness
	Host() string
	Port() (int, bool)
	Path(p P) (string, error)
	Headers(p P) (map[string]string, error)

	// Handle inspects the raw response/data before decoding; a non-nil
	// error fails the task (spec.md §4.11 step 4).
	Handle(status int, data []byte) error

	// Decode turns raw response bytes into R. Decode failures fail the
	// task and the cache is NOT written (spec.md §7).
	Decode(data []byte) (R, error)

	Queue() QueuePolicy
	MergePolicy() MergePolicyKind
}

// Cacheable is optionally implemented alongside Descriptor by request
// types that persist responses (spec.md §6, "Opt-in Cacheable").
type Cacheable interface {
	// CachePolicySeconds communicates the cache policy: 0 means
	// ExpireImmediately, a negative value means Forever, a positive value
	// means Timed(seconds). This numeric encoding keeps Cacheable free of
	// an import on the cachepolicy package.
	CachePolicySeconds() int
	// ReturnCachedDataIfExpired defaults to true per spec.md §6.
	ReturnCachedDataIfExpired() bool
}
