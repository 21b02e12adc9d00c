package queue

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/netconfig"
	"github.com/networkcore/networkcore/netlog"
	"github.com/networkcore/networkcore/task"
)

// ConcurrencyPolicy selects a Named Queue's concurrency cap, per spec.md
// §4.8: Default -> platform default, Serial -> 1, Unlimited -> int max,
// Limit(n) -> n.
type ConcurrencyPolicy struct {
	kind  concurrencyKind
	limit int
}

type concurrencyKind int

const (
	ckDefault concurrencyKind = iota
	ckSerial
	ckUnlimited
	ckLimit
)

func DefaultConcurrency() ConcurrencyPolicy   { return ConcurrencyPolicy{kind: ckDefault} }
func SerialConcurrency() ConcurrencyPolicy    { return ConcurrencyPolicy{kind: ckSerial} }
func UnlimitedConcurrency() ConcurrencyPolicy { return ConcurrencyPolicy{kind: ckUnlimited} }
func LimitConcurrency(n int) ConcurrencyPolicy {
	return ConcurrencyPolicy{kind: ckLimit, limit: n}
}

func (c ConcurrencyPolicy) cap(platformDefault int) int {
	switch c.kind {
	case ckSerial:
		return 1
	case ckUnlimited:
		return int(^uint(0) >> 1)
	case ckLimit:
		return c.limit
	default:
		return platformDefault
	}
}

// Coalescer is implemented by coalesce.Merger. It is invoked inside the
// Named Queue's own serial dispatcher during Enqueue (spec.md §4.10), so it
// must not suspend and must not itself call back into the Named Queue.
type Coalescer interface {
	// TryMerge searches live for a match for newOp. On a match it merges
	// newOp into the returned existing op and returns it; the caller
	// (Named.Enqueue) is then responsible for bumping existing's priority
	// and dropping newOp. A nil return (with nil error) means "admit
	// normally". An error means the merge attempt raised; it is logged and
	// the new task is admitted independently.
	TryMerge(newOp *task.Op, live []*task.Op) (existing *task.Op, err error)
}

// Named is a per-QueueDef runner: a bounded-concurrency admission gate over
// a PriorityQueue, confined to its own dedicated dispatcher so the pending
// queue and in-flight bookkeeping are never touched from two goroutines at
// once (spec.md §5).
type Named struct {
	def      task.QueueDef
	dispatch netconfig.Dispatcher

	pending  *PriorityQueue
	running  map[fingerprint.FP]*task.Op
	cap      int
	seqNext  func() uint64
	coalesce Coalescer

	// limiter throttles admission to at most RequestsPerSecond starts per
	// second, additive wiring grounded on the teacher's
	// warming.Service.rateLimiter / Config.MaxOriginRPS (nil disables it,
	// matching netconfig.Config.RequestsPerSecond's zero-value default).
	limiter *rate.Limiter
}

// NewNamed constructs a Named Queue. seqNext supplies monotonically
// increasing sequence numbers for FIFO tie-break across the whole Queue
// Manager (not just this queue), so priority ties are broken by true
// global arrival order. requestsPerSecond <= 0 disables throttling.
func NewNamed(def task.QueueDef, policy ConcurrencyPolicy, platformDefault int, coalescer Coalescer, seqNext func() uint64, requestsPerSecond float64) *Named {
	n := &Named{
		def:      def,
		dispatch: netconfig.NewSerialDispatcher(256),
		pending:  NewPriorityQueue(),
		running:  make(map[fingerprint.FP]*task.Op),
		cap:      policy.cap(platformDefault),
		seqNext:  seqNext,
		coalesce: coalescer,
	}
	if requestsPerSecond > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}
	return n
}

// liveOpsLocked returns a snapshot of every op still eligible as a merge
// target: parked in pending, or currently running. Must be called from
// inside the queue's own dispatcher.
func (n *Named) liveOpsLocked() []*task.Op {
	live := make([]*task.Op, 0, n.pending.Len()+len(n.running))
	for _, item := range n.pending.h {
		if item.op.IsLive() {
			live = append(live, item.op)
		}
	}
	for _, op := range n.running {
		if op.IsLive() {
			live = append(live, op)
		}
	}
	return live
}

// Enqueue admits a new op, applying the Coalescer first (spec.md §4.10): if
// a live match is found, the new op's callbacks/listeners were already
// merged into it by TryMerge, so here we just bump the existing op's
// priority and return without creating any new scheduling entry. Otherwise
// the op is admitted: run immediately if under cap, else parked.
func (n *Named) Enqueue(op *task.Op) {
	n.dispatch.Post(func() {
		if n.coalesce != nil {
			live := n.liveOpsLocked()
			existing, err := n.coalesce.TryMerge(op, live)
			if err != nil {
				netlog.Warnf(context.Background(), "queue: coalesce attempt failed, admitting independently",
					map[string]interface{}{"queue": string(n.def), "err": err.Error()})
			} else if existing != nil {
				bumped := existing.Priority().Bump()
				existing.SetPriority(bumped)
				n.pending.UpdatePriority(existing.ID, bumped)
				return
			}
		}

		n.admitLocked(op)
	})
}

func (n *Named) admitLocked(op *task.Op) {
	if len(n.running) < n.cap {
		n.startLocked(op)
		return
	}
	n.pending.Enqueue(op, n.seqNext())
}

func (n *Named) startLocked(op *task.Op) {
	n.running[op.ID] = op
	go func() {
		if n.limiter != nil {
			if err := n.limiter.Wait(context.Background()); err != nil {
				netlog.Warnf(context.Background(), "queue: rate limiter wait aborted",
					map[string]interface{}{"queue": string(n.def), "err": err.Error()})
			}
		}
		op.Start()
		n.dispatch.Post(func() { n.onOpDoneLocked(op) })
	}()
}

func (n *Named) onOpDoneLocked(op *task.Op) {
	delete(n.running, op.ID)
	for len(n.running) < n.cap {
		next := n.pending.Dequeue()
		if next == nil {
			break
		}
		n.startLocked(next)
	}
}

// SetPriority mutates id's priority: if parked, re-sorts the pending
// PriorityQueue; if already running, the mutation is recorded on the op
// itself and only affects tie-break on a future scheduling pass (spec.md
// §4.8).
func (n *Named) SetPriority(id fingerprint.FP, p task.Priority) {
	n.dispatch.Post(func() {
		if op, ok := n.running[id]; ok {
			op.SetPriority(p)
			return
		}
		n.pending.UpdatePriority(id, p)
	})
}

// Stats is a point-in-time snapshot for diagnostics/tests.
type Stats struct {
	Running int
	Pending int
	Cap     int
}

// Stats returns a synchronous snapshot, blocking until the queue's
// dispatcher produces it.
func (n *Named) Stats() Stats {
	done := make(chan Stats, 1)
	n.dispatch.Post(func() {
		done <- Stats{Running: len(n.running), Pending: n.pending.Len(), Cap: n.cap}
	})
	return <-done
}
