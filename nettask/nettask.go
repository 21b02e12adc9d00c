// Package nettask implements the Network Task (C11): one HTTP execution,
// from URL composition through cache persistence and callback fan-out, per
// spec.md §4.11.
package nettask

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/networkcore/networkcore/cache"
	"github.com/networkcore/networkcore/cachepolicy"
	"github.com/networkcore/networkcore/coalesce"
	"github.com/networkcore/networkcore/delegate"
	"github.com/networkcore/networkcore/descriptor"
	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/netconfig"
	"github.com/networkcore/networkcore/netlog"
	"github.com/networkcore/networkcore/neterrors"
	"github.com/networkcore/networkcore/task"
)

// Result is the outcome handed to a ResultCallback: exactly one of Value
// or Err is set.
type Result[R any] struct {
	Value R
	Err   error
}

// ResultCallback receives the final Result exactly once.
type ResultCallback[R any] func(Result[R])

// DataCallback receives only successful decoded values. observe's network
// tasks register no DataCallback: the observer is notified through the
// cache-change path instead (spec.md §4.12 step 6).
type DataCallback[R any] func(R)

// Task is one Network Task instance (C11). It implements task.Runnable
// (PreProcess/Process) so it can be wrapped in a task.Op, and
// coalesce.Mergeable so the Coalescer (C10) can fold duplicate requests
// into it.
type Task[P descriptor.Params, R any] struct {
	id     fingerprint.FP
	desc   descriptor.Descriptor[P, R]
	params P

	transport Transport
	store     *cache.Cache
	main      netconfig.Dispatcher
	timeout   time.Duration

	mu              sync.Mutex
	resultCallbacks []ResultCallback[R]
	dataCallbacks   []DataCallback[R]
	listeners       *delegate.Multicast[task.LifecycleListener]
}

// New constructs a Network Task. id is the precomputed fingerprint
// (spec.md §4.1); the Orchestrator is responsible for computing it before
// construction so the task and its eventual task.Op share the same id.
func New[P descriptor.Params, R any](
	id fingerprint.FP,
	desc descriptor.Descriptor[P, R],
	params P,
	transport Transport,
	store *cache.Cache,
	main netconfig.Dispatcher,
	timeout time.Duration,
) *Task[P, R] {
	return &Task[P, R]{
		id:        id,
		desc:      desc,
		params:    params,
		transport: transport,
		store:     store,
		main:      main,
		timeout:   timeout,
		listeners: delegate.New[task.LifecycleListener](),
	}
}

// AddResultCallback registers a one-shot result callback.
func (t *Task[P, R]) AddResultCallback(cb ResultCallback[R]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resultCallbacks = append(t.resultCallbacks, cb)
}

// AddDataCallback registers a success-only callback.
func (t *Task[P, R]) AddDataCallback(cb DataCallback[R]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataCallbacks = append(t.dataCallbacks, cb)
}

// AddListener registers target against the task's lifecycle Multicast
// (weak, per C4's default). Dispatch uses InvokeWith with the specific
// started/completed/failed event, not a per-registration callback.
func (t *Task[P, R]) AddListener(target *task.LifecycleListener) {
	t.listeners.Add(target, func(*task.LifecycleListener) {})
}

// composeURL builds scheme://host[:port]path?query per spec.md §6.
func (t *Task[P, R]) composeURL() (string, error) {
	return ComposeURL[P, R](t.desc, t.params)
}

// ComposeURL builds scheme://host[:port]path?query per spec.md §6 for any
// descriptor/params pair, independent of a constructed Task. The
// Orchestrator (C12) uses this to compute a request's fingerprint before
// deciding whether a Task needs to be constructed at all.
func ComposeURL[P descriptor.Params, R any](desc descriptor.Descriptor[P, R], params P) (string, error) {
	path, err := desc.Path(params)
	if err != nil {
		return "", err
	}
	host := desc.Host()
	if port, ok := desc.Port(); ok {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := url.URL{Scheme: desc.Scheme(), Host: host, Path: path}

	query, err := params.AsQuery()
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Fingerprint computes the request's fingerprint (C1) from its composed URL,
// method and params, without requiring a constructed Task.
func Fingerprint[P descriptor.Params, R any](desc descriptor.Descriptor[P, R], params P) (fingerprint.FP, error) {
	u, err := ComposeURL[P, R](desc, params)
	if err != nil {
		return "", err
	}
	return fingerprint.Compute(string(desc.Method()), u, params), nil
}

// PreProcess is a no-op hook reserved for descriptor-level validation ahead
// of admission bookkeeping; Network Tasks have nothing to validate before
// process() that Process itself doesn't already check.
func (t *Task[P, R]) PreProcess() {}

// Process executes the task's full lifecycle: spec.md §4.11 steps 1-7.
func (t *Task[P, R]) Process() {
	t.main.Post(func() {
		t.notifyListeners(func(l *task.LifecycleListener) {
			if l.RequestStarted != nil {
				l.RequestStarted(t.id)
			}
		})
	})

	rawURL, err := t.composeURL()
	if err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrInvalidURL, err))
		return
	}

	body, err := t.params.AsBody()
	if err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrInvalidURL, err))
		return
	}

	headers, err := t.desc.Headers(t.params)
	if err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrInvalidURL, err))
		return
	}

	req := &Request{
		Method:  string(t.desc.Method()),
		URL:     rawURL,
		Headers: headers,
		Body:    body,
		Timeout: t.timeout,
	}

	resp, err := t.transport.RoundTrip(context.Background(), req)
	if err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrTransport, err))
		return
	}
	if resp == nil {
		t.fail(neterrors.ErrNoResponse)
		return
	}

	if err := t.desc.Handle(resp.StatusCode, resp.Body); err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrHandled, err))
		return
	}

	value, err := t.desc.Decode(resp.Body)
	if err != nil {
		t.fail(neterrors.Wrap(neterrors.ErrDecode, err))
		return
	}

	if cacheable, ok := any(t.desc).(descriptor.Cacheable); ok {
		policy := policyFromSeconds(cacheable.CachePolicySeconds())
		t.store.Put(t.id, resp.Body, policy)
	}

	t.succeed(value)
}

// PolicyFromSeconds decodes a descriptor.Cacheable's CachePolicySeconds
// encoding into a concrete cachepolicy.Policy (0 -> ExpireImmediately,
// negative -> Forever, positive -> Timed(seconds)).
func PolicyFromSeconds(seconds int) cachepolicy.Policy {
	return policyFromSeconds(seconds)
}

func policyFromSeconds(seconds int) cachepolicy.Policy {
	switch {
	case seconds == 0:
		return cachepolicy.NewExpireImmediately()
	case seconds < 0:
		return cachepolicy.NewForever()
	default:
		return cachepolicy.NewTimed(seconds)
	}
}

// succeed fulfils every result callback, reports requestCompleted, then
// invokes every data callback — in that order, per spec.md §5's ordering
// guarantee ("direct data callbacks ... invoked after requestCompleted is
// reported to listeners"). All of it runs on the main dispatcher.
func (t *Task[P, R]) succeed(value R) {
	t.main.Post(func() {
		t.mu.Lock()
		results := append([]ResultCallback[R](nil), t.resultCallbacks...)
		data := append([]DataCallback[R](nil), t.dataCallbacks...)
		t.mu.Unlock()

		for _, cb := range results {
			cb(Result[R]{Value: value})
		}

		t.notifyListeners(func(l *task.LifecycleListener) {
			if l.RequestCompleted != nil {
				l.RequestCompleted(t.id)
			}
		})

		for _, cb := range data {
			cb(value)
		}
	})
}

// fail fulfils every result callback with err and reports requestFailed, on
// the main dispatcher (spec.md §4.11 step 7).
func (t *Task[P, R]) fail(err error) {
	netlog.Errorf(context.Background(), "nettask: request failed",
		map[string]interface{}{"fp": string(t.id), "err": err.Error()})

	t.main.Post(func() {
		t.mu.Lock()
		results := append([]ResultCallback[R](nil), t.resultCallbacks...)
		t.mu.Unlock()

		for _, cb := range results {
			cb(Result[R]{Err: err})
		}

		t.notifyListeners(func(l *task.LifecycleListener) {
			if l.RequestFailed != nil {
				l.RequestFailed(t.id, err)
			}
		})
	})
}

func (t *Task[P, R]) notifyListeners(fn func(*task.LifecycleListener)) {
	t.listeners.InvokeWith(fn)
}

// MergeInto implements coalesce.Mergeable: appends this task's callbacks
// and listeners onto existing (spec.md §4.11, "merge protocol").
func (t *Task[P, R]) MergeInto(existing coalesce.Mergeable) error {
	other, ok := existing.(*Task[P, R])
	if !ok {
		return neterrors.ErrMergeIncompatible
	}

	t.mu.Lock()
	results := append([]ResultCallback[R](nil), t.resultCallbacks...)
	data := append([]DataCallback[R](nil), t.dataCallbacks...)
	t.mu.Unlock()

	other.mu.Lock()
	other.resultCallbacks = append(other.resultCallbacks, results...)
	other.dataCallbacks = append(other.dataCallbacks, data...)
	other.mu.Unlock()

	other.listeners.MergeFrom(t.listeners)
	return nil
}

// ShouldBeMerged implements coalesce.Mergeable: id == other.id, plus the
// descriptor's CustomMergePredicate when MergePolicy is MergeCustom (spec.md
// §4, "Custom(predicate(descriptor))").
func (t *Task[P, R]) ShouldBeMerged(other coalesce.Mergeable) bool {
	o, ok := other.(*Task[P, R])
	if !ok || t.id != o.id {
		return false
	}
	if t.desc.MergePolicy() == descriptor.MergeCustom {
		if pred, ok := any(t.desc).(descriptor.CustomMergePredicate[P]); ok {
			return pred.ShouldMerge(t.params, o.params)
		}
	}
	return true
}

// Mergeable implements coalesce.Mergeable, reflecting the descriptor's
// MergePolicy (default Always, per spec.md §6). MergeCustom still opts in
// here; the actual match is decided per-pair by ShouldBeMerged's predicate
// check.
func (t *Task[P, R]) Mergeable() bool {
	switch t.desc.MergePolicy() {
	case descriptor.MergeAlways, descriptor.MergeCustom:
		return true
	default:
		return false
	}
}
