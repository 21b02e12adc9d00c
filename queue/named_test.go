package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/task"
)

type blockingRunnable struct {
	release chan struct{}
	ran     chan struct{}
}

func (r *blockingRunnable) PreProcess() {}
func (r *blockingRunnable) Process() {
	close(r.ran)
	<-r.release
}

func TestNamedQueueRunsImmediatelyUnderCap(t *testing.T) {
	n := NewNamed("default", LimitConcurrency(2), 4, nil, task.NextSeq, 0)

	r := &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})}
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	op := task.NewOp(fp, "default", task.Normal, task.NextSeq(), r)

	n.Enqueue(op)

	select {
	case <-r.ran:
	case <-time.After(time.Second):
		t.Fatalf("expected op to start running under cap")
	}
	close(r.release)
}

func TestNamedQueueParksOverCapAndDrainsOnCompletion(t *testing.T) {
	n := NewNamed("default", LimitConcurrency(1), 4, nil, task.NextSeq, 0)

	first := &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})}
	fp1 := fingerprint.Compute("GET", "https://x/1", nil)
	op1 := task.NewOp(fp1, "default", task.Normal, task.NextSeq(), first)
	n.Enqueue(op1)

	<-first.ran

	var mu sync.Mutex
	var secondRan bool
	second := &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})}
	fp2 := fingerprint.Compute("GET", "https://x/2", nil)
	op2 := task.NewOp(fp2, "default", task.Normal, task.NextSeq(), second)
	n.Enqueue(op2)

	go func() {
		<-second.ran
		mu.Lock()
		secondRan = true
		mu.Unlock()
	}()

	stats := n.Stats()
	if stats.Running != 1 || stats.Pending != 1 {
		t.Fatalf("expected 1 running, 1 pending under cap 1, got %+v", stats)
	}

	close(first.release)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		ran := secondRan
		mu.Unlock()
		if ran {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected second op to start once the first completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	close(second.release)
}

// idMatchCoalescer merges an incoming op into existing when their IDs match
// and admits every other op normally.
type idMatchCoalescer struct {
	existing *task.Op
	calls    int
}

func (c *idMatchCoalescer) TryMerge(newOp *task.Op, live []*task.Op) (*task.Op, error) {
	c.calls++
	if newOp.ID != c.existing.ID {
		return nil, nil
	}
	return c.existing, nil
}

func TestEnqueueWithCoalescerBumpsExistingAndDropsNew(t *testing.T) {
	existing := &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})}
	fp := fingerprint.Compute("GET", "https://x/y", nil)
	existingOp := task.NewOp(fp, "default", task.Normal, task.NextSeq(), existing)

	coalescer := &idMatchCoalescer{existing: existingOp}
	n := NewNamed("default", LimitConcurrency(1), 4, coalescer, task.NextSeq, 0)

	// occupy the single slot with something else so the merge target stays "pending"
	blocker := &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})}
	fp0 := fingerprint.Compute("GET", "https://x/0", nil)
	op0 := task.NewOp(fp0, "default", task.Normal, task.NextSeq(), blocker)
	n.Enqueue(op0)
	<-blocker.ran

	newOp := task.NewOp(fp, "default", task.Normal, task.NextSeq(), &blockingRunnable{release: make(chan struct{}), ran: make(chan struct{})})
	n.Enqueue(newOp)

	stats := n.Stats()
	if stats.Pending != 0 {
		t.Fatalf("coalesced op must not create a new pending entry, got %+v", stats)
	}
	if got := existingOp.Priority(); got != task.High {
		t.Fatalf("expected the merge target bumped from Normal to High, got %v", got)
	}
	close(blocker.release)
}
