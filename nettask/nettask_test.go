package nettask

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/networkcore/networkcore/cache"
	"github.com/networkcore/networkcore/descriptor"
	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
	"github.com/networkcore/networkcore/netconfig"
	"github.com/networkcore/networkcore/task"
)

type params struct {
	Name string
}

func (params) AsQuery() (url.Values, error) { return nil, nil }
func (params) AsBody() ([]byte, error)       { return nil, nil }

type reply struct {
	Greeting string `json:"greeting"`
}

type desc struct {
	mergePolicy     descriptor.MergePolicyKind
	cacheSecs       int
	handleErr       error
	customPredicate func(newP, existingP params) bool
}

// ShouldMerge implements descriptor.CustomMergePredicate[params], consulted
// only when mergePolicy is descriptor.MergeCustom.
func (d desc) ShouldMerge(newP, existingP params) bool {
	if d.customPredicate == nil {
		return true
	}
	return d.customPredicate(newP, existingP)
}

func (d desc) Method() descriptor.Method { return descriptor.GET }
func (d desc) Scheme() string            { return "https" }
func (d desc) Host() string              { return "example.test" }
func (d desc) Port() (int, bool)         { return 0, false }
func (d desc) Path(p params) (string, error) { return "/hello", nil }
func (d desc) Headers(p params) (map[string]string, error) { return nil, nil }
func (d desc) Handle(status int, data []byte) error        { return d.handleErr }
func (d desc) Decode(data []byte) (reply, error) {
	var r reply
	err := json.Unmarshal(data, &r)
	return r, err
}
func (d desc) Queue() descriptor.QueuePolicy           { return descriptor.QueuePolicy{Name: "default"} }
func (d desc) MergePolicy() descriptor.MergePolicyKind { return d.mergePolicy }

func (d desc) CachePolicySeconds() int           { return d.cacheSecs }
func (d desc) ReturnCachedDataIfExpired() bool    { return true }

type fakeTransport struct {
	resp *Response
	err  error
	n    int
}

func (f *fakeTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	f.n++
	return f.resp, f.err
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	dir, err := os.MkdirTemp("", "nettask-cache-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	disk, err := cache.NewDiskTier(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskTier: %v", err)
	}
	return cache.New(cache.Config{MemoryCountLimit: 100, MemoryByteLimit: 1 << 20}, disk, &metrics.Counters{})
}

func TestProcessSuccessPersistsAndFulfilsCallbacks(t *testing.T) {
	transport := &fakeTransport{resp: &Response{StatusCode: 200, Body: []byte(`{"greeting":"hi"}`)}}
	store := newTestCache(t)
	main := netconfig.Inline{}

	d := desc{mergePolicy: descriptor.MergeAlways, cacheSecs: -1}
	fp := fingerprint.Compute("GET", "https://example.test/hello", nil)
	tk := New[params, reply](fp, d, params{Name: "x"}, transport, store, main, time.Second)

	var mu sync.Mutex
	var gotValue reply
	var gotErr error
	var dataVal reply
	tk.AddResultCallback(func(r Result[reply]) {
		mu.Lock()
		gotValue, gotErr = r.Value, r.Err
		mu.Unlock()
	})
	tk.AddDataCallback(func(r reply) {
		mu.Lock()
		dataVal = r
		mu.Unlock()
	})

	tk.PreProcess()
	tk.Process()

	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if gotValue.Greeting != "hi" || dataVal.Greeting != "hi" {
		t.Fatalf("expected decoded value delivered to both callbacks, got %+v / %+v", gotValue, dataVal)
	}

	if b, ok := store.Get(fp); !ok || string(b) != `{"greeting":"hi"}` {
		t.Fatalf("expected raw bytes persisted to cache, got ok=%v bytes=%q", ok, b)
	}
}

func TestProcessDecodeFailureDoesNotWriteCache(t *testing.T) {
	transport := &fakeTransport{resp: &Response{StatusCode: 200, Body: []byte(`not json`)}}
	store := newTestCache(t)
	main := netconfig.Inline{}

	d := desc{mergePolicy: descriptor.MergeAlways, cacheSecs: -1}
	fp := fingerprint.Compute("GET", "https://example.test/hello", nil)
	tk := New[params, reply](fp, d, params{}, transport, store, main, time.Second)

	var gotErr error
	tk.AddResultCallback(func(r Result[reply]) { gotErr = r.Err })

	tk.Process()

	if gotErr == nil {
		t.Fatalf("expected a decode error to be reported")
	}
	if _, ok := store.Get(fp); ok {
		t.Fatalf("cache must not be written on decode failure")
	}
}

func TestMergeIntoAppendsCallbacksAndListeners(t *testing.T) {
	store := newTestCache(t)
	main := netconfig.Inline{}
	d := desc{mergePolicy: descriptor.MergeAlways, cacheSecs: -1}
	fp := fingerprint.Compute("GET", "https://example.test/hello", nil)

	existing := New[params, reply](fp, d, params{}, &fakeTransport{}, store, main, time.Second)
	incoming := New[params, reply](fp, d, params{}, &fakeTransport{}, store, main, time.Second)

	var calls int
	incoming.AddResultCallback(func(Result[reply]) { calls++ })
	listener := &task.LifecycleListener{}
	incoming.AddListener(listener)

	if err := incoming.MergeInto(existing); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}
	if len(existing.resultCallbacks) != 1 {
		t.Fatalf("expected incoming's callback appended onto existing")
	}
	if existing.listeners.Len() != 1 {
		t.Fatalf("expected incoming's listener appended onto existing, got %d", existing.listeners.Len())
	}
}

func TestShouldBeMergedMatchesOnID(t *testing.T) {
	store := newTestCache(t)
	main := netconfig.Inline{}
	d := desc{mergePolicy: descriptor.MergeAlways, cacheSecs: -1}
	fp1 := fingerprint.Compute("GET", "https://example.test/a", nil)
	fp2 := fingerprint.Compute("GET", "https://example.test/b", nil)

	a := New[params, reply](fp1, d, params{}, &fakeTransport{}, store, main, time.Second)
	b := New[params, reply](fp1, d, params{}, &fakeTransport{}, store, main, time.Second)
	c := New[params, reply](fp2, d, params{}, &fakeTransport{}, store, main, time.Second)

	if !a.ShouldBeMerged(b) {
		t.Fatalf("expected same-id tasks to be merge candidates")
	}
	if a.ShouldBeMerged(c) {
		t.Fatalf("expected different-id tasks to not be merge candidates")
	}
}

func TestMergeCustomConsultsDescriptorPredicate(t *testing.T) {
	store := newTestCache(t)
	main := netconfig.Inline{}
	fp := fingerprint.Compute("GET", "https://example.test/hello", nil)

	rejecting := desc{
		mergePolicy: descriptor.MergeCustom,
		cacheSecs:   -1,
		customPredicate: func(newP, existingP params) bool {
			return newP.Name == existingP.Name
		},
	}

	a := New[params, reply](fp, rejecting, params{Name: "alice"}, &fakeTransport{}, store, main, time.Second)
	b := New[params, reply](fp, rejecting, params{Name: "alice"}, &fakeTransport{}, store, main, time.Second)
	c := New[params, reply](fp, rejecting, params{Name: "bob"}, &fakeTransport{}, store, main, time.Second)

	if !a.Mergeable() {
		t.Fatalf("expected MergeCustom descriptor to opt into merging")
	}
	if !a.ShouldBeMerged(b) {
		t.Fatalf("expected matching predicate to approve the merge")
	}
	if a.ShouldBeMerged(c) {
		t.Fatalf("expected mismatched predicate to reject the merge")
	}
}
