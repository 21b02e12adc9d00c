// Package queue implements the Priority Queue (C7), Named Queue (C8) and
// Queue Manager (C9): the scheduling core that admits TaskOps, runs them
// under a per-queue concurrency cap, and re-sorts on priority changes.
//
// The worker/concurrency-cap mechanics are adapted from the teacher's
// warming.WorkerPool (warming/worker_pool.go) — a fixed pool draining a
// channel — reshaped into an admission-capped model where "workers" are
// just permits to run an op to completion, not long-lived goroutines.
package queue

import (
	"container/heap"

	"github.com/networkcore/networkcore/fingerprint"
	"github.com/networkcore/networkcore/task"
)

// heapItem is one slot in the priority queue's backing heap.
type heapItem struct {
	op       *task.Op
	priority task.Priority
	seq      uint64
	index    int // maintained by container/heap
}

type opHeap []*heapItem

func (h opHeap) Len() int { return len(h) }

// Less orders by priority descending, ties by insertion sequence ascending
// (stable FIFO within a priority), per spec.md §4.7.
func (h opHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *opHeap) Push(x interface{}) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *opHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a mutable-priority sequence over TaskOps. It is not
// internally synchronized: callers (the Named Queue) confine all access to
// a single dispatcher goroutine, per spec.md §5's serial-domain rule.
type PriorityQueue struct {
	h    opHeap
	byID map[fingerprint.FP]*heapItem
}

// NewPriorityQueue returns an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{byID: make(map[fingerprint.FP]*heapItem)}
}

// Enqueue adds op at its current priority, using seq for FIFO tie-break.
func (q *PriorityQueue) Enqueue(op *task.Op, seq uint64) {
	item := &heapItem{op: op, priority: op.Priority(), seq: seq}
	heap.Push(&q.h, item)
	q.byID[op.ID] = item
}

// Dequeue removes and returns the highest-priority op, or nil if empty.
func (q *PriorityQueue) Dequeue() *task.Op {
	if q.h.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.h).(*heapItem)
	delete(q.byID, item.op.ID)
	return item.op
}

// Peek returns the highest-priority op without removing it.
func (q *PriorityQueue) Peek() *task.Op {
	if q.h.Len() == 0 {
		return nil
	}
	return q.h[0].op
}

// UpdatePriority sets the op for id to priority p and restores heap order
// with heap.Fix (O(log n)). An id that is not pending is ignored.
func (q *PriorityQueue) UpdatePriority(id fingerprint.FP, p task.Priority) {
	item, ok := q.byID[id]
	if !ok {
		return
	}
	item.op.SetPriority(p)
	item.priority = p
	heap.Fix(&q.h, item.index)
}

// Remove drops the op matching id, if present, and reports whether it was
// found.
func (q *PriorityQueue) Remove(id fingerprint.FP) bool {
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.h, item.index)
	delete(q.byID, id)
	return true
}

// Len returns the number of pending ops.
func (q *PriorityQueue) Len() int { return q.h.Len() }
