// Package coalesce implements the Coalescer (C10) in two layers, both
// grounded on the teacher's own coalescing code:
//
//   - Merger is the priority-aware admission-time merge described in
//     spec.md §4.10, adapted from the teacher's hand-rolled
//     cachemanager.RequestCoalescer (cache-manager/singleflight.go): a
//     map-of-in-flight-calls pattern, here searching live ops instead of a
//     map, because the match target is "first live op with this id", not a
//     brand new call.
//   - SingleFlight is a defense-in-depth wrap around the actual transport
//     call using the real golang.org/x/sync/singleflight.Group, exactly as
//     the teacher's warming.Service already uses it, so that even a bug in
//     Merger cannot produce two concurrent executions for the same
//     fingerprint.
package coalesce

import (
	"golang.org/x/sync/singleflight"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/internal/metrics"
	"github.com/networkcore/networkcore/neterrors"
	"github.com/networkcore/networkcore/task"
)

// Mergeable is implemented by the Network Task (and any other mergable
// task kind) to support merge(into:) and the descriptor's shouldBeMerged
// predicate (spec.md §4.11).
type Mergeable interface {
	// MergeInto appends this task's callbacks/listeners onto existing. It
	// returns neterrors.ErrMergeIncompatible if the concrete types are
	// incompatible (spec.md's MergeIncompatible error kind).
	MergeInto(existing Mergeable) error
	// ShouldBeMerged reports whether this task should be considered a
	// match for other, default id == other.id (spec.md §4.11).
	ShouldBeMerged(other Mergeable) bool
	// Mergeable reports whether this task opted into merging at all (the
	// descriptor's MergePolicy evaluated to true).
	Mergeable() bool
}

// Merger is the admission-time layer, invoked inside queue.Named's own
// serial dispatcher. It implements queue.Coalescer.
type Merger struct {
	// payload extracts the Mergeable view of an op's underlying task, since
	// task.Op itself only knows about scheduling, not merge semantics.
	payload  func(op *task.Op) Mergeable
	counters *metrics.Counters
}

// NewMerger constructs a Merger. payload must return the Mergeable facet of
// op's concrete task (typically a *nettask.Task wrapped behind the Op).
// counters.Coalesced is incremented once per successful merge (may be nil to
// skip counting, e.g. in tests that don't wire an Orchestrator's counters).
func NewMerger(payload func(op *task.Op) Mergeable, counters *metrics.Counters) *Merger {
	return &Merger{payload: payload, counters: counters}
}

// TryMerge implements queue.Coalescer. It searches live (already filtered
// to non-finished, non-cancelled ops by the caller) for the first op whose
// task accepts newOp as a merge, per spec.md §4.10.
func (m *Merger) TryMerge(newOp *task.Op, live []*task.Op) (*task.Op, error) {
	newPayload := m.payload(newOp)
	if newPayload == nil || !newPayload.Mergeable() {
		return nil, nil
	}

	for _, candidate := range live {
		if candidate.ID != newOp.ID {
			continue
		}
		candidatePayload := m.payload(candidate)
		if candidatePayload == nil {
			continue
		}
		if !newPayload.ShouldBeMerged(candidatePayload) {
			continue
		}
		if err := newPayload.MergeInto(candidatePayload); err != nil {
			return nil, neterrors.Wrap(neterrors.ErrMergeIncompatible, err)
		}
		if m.counters != nil {
			m.counters.Coalesced.Add(1)
		}
		return candidate, nil
	}

	return nil, nil
}

// SingleFlight wraps a fingerprint-keyed transport call in the real
// golang.org/x/sync/singleflight.Group, as a backstop beneath Merger: even
// if two NamedQueues or a Merger bug let two ops for the same fingerprint
// reach execution, only one transport call is actually issued and both
// callers observe its result (spec.md §8 property 2, "exactly one
// transport request is issued").
type SingleFlight struct {
	group singleflight.Group
}

// NewSingleFlight constructs an empty single-flight group.
func NewSingleFlight() *SingleFlight { return &SingleFlight{} }

// Do executes fn at most once concurrently for fp, fanning the single
// result out to every concurrent caller.
func (s *SingleFlight) Do(fp fingerprint.FP, fn func() (interface{}, error)) (interface{}, error, bool) {
	v, err, shared := s.group.Do(string(fp), fn)
	return v, err, shared
}

// Forget drops fp from the group, so a subsequent call executes fresh
// rather than joining a (possibly stale) completed call's result.
func (s *SingleFlight) Forget(fp fingerprint.FP) {
	s.group.Forget(string(fp))
}
