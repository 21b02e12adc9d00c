// Package observer implements the fingerprint-keyed observer registry (C5):
// a map from FP to a list of (weak target, callback) entries, cancellation
// tokens, and dead-observer pruning, serialized through a single dispatcher
// so the registry map is never mutated from two goroutines at once.
package observer

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
	"github.com/networkcore/networkcore/netconfig"
)

// WeakAlive wraps target in a weak.Pointer and returns a liveness probe
// suitable for AddObserver's alive parameter, without the registry ever
// holding a strong reference back into caller-owned memory.
func WeakAlive[T any](target *T) func() bool {
	wp := weak.Make(target)
	return func() bool { return wp.Value() != nil }
}

// Token is the cancellation handle returned by AddObserver. It carries just
// enough identity to revoke its own entry: the fingerprint and an opaque
// cancel id, per spec.md §3 ("Ownership summary").
type Token struct {
	fp        fingerprint.FP
	cancelID  uuid.UUID
	cancelled atomic.Bool
	registry  *Registry
}

// Fingerprint reports the request key this token observes.
func (t *Token) Fingerprint() fingerprint.FP { return t.fp }

// IsLive reports whether the token has not been cancelled. Used by the
// Orchestrator's duplicate-observer-suppression rule (spec.md §4.12).
func (t *Token) IsLive() bool { return !t.cancelled.Load() }

// Cancel revokes the token. Cancellation is synchronous in effect: the
// cancelled flag flips immediately, and no callback fires for this token
// after Cancel returns, even if the registry's map update lags behind
// (spec.md §5). Cancel is idempotent.
func (t *Token) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return // already cancelled; idempotent per spec.md §8 invariant 9
	}
	if t.registry != nil {
		t.registry.remove(t.fp, t.cancelID)
	}
}

type entry struct {
	cancelID  uuid.UUID
	alive     func() bool
	cancelled *atomic.Bool
	deliver   func([]byte)
}

// Registry holds the FP -> []entry map, confined to its own dispatcher.
type Registry struct {
	dispatch netconfig.Dispatcher // the registry's own serial domain
	main     netconfig.Dispatcher // where user callbacks actually fire

	mu    sync.Mutex
	byFP  map[fingerprint.FP][]*entry
	empty func(fingerprint.FP) // notified when a FP's observer list drains to zero

	counters *metrics.Counters
}

// New creates an observer registry. main is the dispatcher user callbacks
// are posted to (the "main (UI) dispatcher" of spec.md §5); onEmpty is
// invoked on the registry's own dispatcher goroutine whenever the last observer
// for a fingerprint is pruned, so the Queue Manager can demote that task's
// priority (spec.md §4.5).
func New(main netconfig.Dispatcher, counters *metrics.Counters, onEmpty func(fingerprint.FP)) *Registry {
	return &Registry{
		dispatch: netconfig.NewSerialDispatcher(256),
		main:     main,
		byFP:     make(map[fingerprint.FP][]*entry),
		empty:    onEmpty,
		counters: counters,
	}
}

// AddObserver registers callback under fp. alive reports whether the
// logical target is still reachable; callers typically derive it from a
// weak.Pointer (see observer.WeakAlive) so the registry never holds a
// strong back-reference into caller-owned objects (spec.md §9, "avoid
// back-pointers from targets"). If alive() is already false at
// registration time, the observer is skipped and a no-op, already-cancelled
// token is returned.
func (r *Registry) AddObserver(fp fingerprint.FP, alive func() bool, callback func([]byte)) *Token {
	tok := &Token{fp: fp, cancelID: uuid.New(), registry: r}

	if alive != nil && !alive() {
		tok.cancelled.Store(true)
		return tok
	}

	done := make(chan struct{})
	r.dispatch.Post(func() {
		defer close(done)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.byFP[fp] = append(r.byFP[fp], &entry{
			cancelID:  tok.cancelID,
			alive:     alive,
			cancelled: &tok.cancelled,
			deliver:   callback,
		})
	})
	<-done

	return tok
}

// remove drops exactly the entry matching cancelID for fp. Idempotent. If
// this was the last observer for fp, onEmpty(fp) is signalled just as it is
// from Deliver's pruning pass (spec.md §8 property S5: cancelling an FP's
// only observer demotes its task's priority even if no delivery has
// happened yet).
func (r *Registry) remove(fp fingerprint.FP, cancelID uuid.UUID) {
	r.dispatch.Post(func() {
		r.mu.Lock()
		list := r.byFP[fp]
		removed := false
		for i, e := range list {
			if e.cancelID == cancelID {
				r.byFP[fp] = append(list[:i], list[i+1:]...)
				removed = true
				break
			}
		}
		becameEmpty := removed && len(r.byFP[fp]) == 0
		if becameEmpty {
			delete(r.byFP, fp)
		}
		r.mu.Unlock()

		if becameEmpty && r.empty != nil {
			r.empty(fp)
		}
	})
}

// Deliver is triggered by the cache's Add(fp) change event. It reads the
// observer list for fp, walks it in reverse to prune dead/cancelled
// entries (spec.md §4.5), restores registration order for the survivors,
// and posts each survivor's callback to the main dispatcher — in
// registration order, per the ordering guarantee in spec.md §5. If the
// surviving list becomes empty, onEmpty(fp) is signalled so the task that
// produced this write can have its priority demoted.
func (r *Registry) Deliver(fp fingerprint.FP, bytes []byte) {
	r.dispatch.Post(func() {
		r.mu.Lock()
		list := r.byFP[fp]

		survivors := make([]*entry, 0, len(list))
		for i := len(list) - 1; i >= 0; i-- {
			e := list[i]
			if e.cancelled.Load() {
				continue
			}
			if e.alive != nil && !e.alive() {
				continue
			}
			survivors = append(survivors, e)
		}
		// survivors was built walking backwards; reverse it back so the
		// dispatch loop below fires in original registration order.
		for i, j := 0, len(survivors)-1; i < j; i, j = i+1, j-1 {
			survivors[i], survivors[j] = survivors[j], survivors[i]
		}

		if len(survivors) == 0 {
			delete(r.byFP, fp)
		} else {
			r.byFP[fp] = survivors
		}
		becameEmpty := len(survivors) == 0
		r.mu.Unlock()

		for _, e := range survivors {
			e := e
			r.main.Post(func() {
				if e.cancelled.Load() {
					return
				}
				e.deliver(bytes)
			})
		}

		if becameEmpty && r.empty != nil {
			r.empty(fp)
		}
	})
}

// Clear drops every observer, as happens on a global cache clear (spec.md
// §3, Observer lifecycle (c)).
func (r *Registry) Clear() {
	done := make(chan struct{})
	r.dispatch.Post(func() {
		defer close(done)
		r.mu.Lock()
		r.byFP = make(map[fingerprint.FP][]*entry)
		r.mu.Unlock()
	})
	<-done
}

// Count returns the number of live observer entries for fp, for tests and
// diagnostics.
func (r *Registry) Count(fp fingerprint.FP) int {
	done := make(chan struct{})
	var n int
	r.dispatch.Post(func() {
		defer close(done)
		r.mu.Lock()
		n = len(r.byFP[fp])
		r.mu.Unlock()
	})
	<-done
	return n
}
