package queue

import (
	"sync"
	"sync/atomic"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/task"
)

// Manager is a thin multiplexer over one Named Queue per task.QueueDef,
// modeled on the teacher's singleton-via-sync.Once construction style
// (cachemanager.initService/svc/once) but applied here to lazy per-queue
// creation instead of a single process-wide instance.
type Manager struct {
	mu                sync.Mutex // guards only the queues map (spec.md §4.9)
	queues            map[task.QueueDef]*Named
	platformDefault   int
	coalescer         Coalescer
	requestsPerSecond float64
	seq               atomic.Uint64
}

// NewManager constructs an empty Queue Manager. platformDefault is the
// concurrency cap used for queues declared with DefaultConcurrency();
// coalescer (may be nil) is installed on every Named Queue created here.
// requestsPerSecond (<= 0 to disable) is likewise applied to every queue
// created here, mirroring netconfig.Config.RequestsPerSecond.
func NewManager(platformDefault int, coalescer Coalescer, requestsPerSecond float64) *Manager {
	return &Manager{
		queues:            make(map[task.QueueDef]*Named),
		platformDefault:   platformDefault,
		coalescer:         coalescer,
		requestsPerSecond: requestsPerSecond,
	}
}

func (m *Manager) nextSeq() uint64 { return m.seq.Add(1) }

// queueFor returns the Named Queue for def, creating it with the given
// concurrency policy on first use.
func (m *Manager) queueFor(def task.QueueDef, policy ConcurrencyPolicy) *Named {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[def]; ok {
		return q
	}
	q := NewNamed(def, policy, m.platformDefault, m.coalescer, m.nextSeq, m.requestsPerSecond)
	m.queues[def] = q
	return q
}

// Enqueue routes op to queues[op.Queue], creating it (with policy) on
// first use, per spec.md §4.9.
func (m *Manager) Enqueue(op *task.Op, policy ConcurrencyPolicy) {
	m.queueFor(op.Queue, policy).Enqueue(op)
}

// SetPriority broadcasts to every known queue; the id is unique across
// queues so at most one will match (spec.md §4.9).
func (m *Manager) SetPriority(id fingerprint.FP, p task.Priority) {
	m.mu.Lock()
	all := make([]*Named, 0, len(m.queues))
	for _, q := range m.queues {
		all = append(all, q)
	}
	m.mu.Unlock()

	for _, q := range all {
		q.SetPriority(id, p)
	}
}
