package pool

import (
	"container/heap"
	"context"
	"sort"
	"time"
)

// waiter is one queued acquisition. index is -1 once it has left the queue.
type waiter struct {
	id       string
	ctx      context.Context
	opts     AcquireOptions
	seq      uint64
	queuedAt time.Time
	result   chan acquireResult
	index    int
}

type acquireResult struct {
	conn *Connection
	err  error
}

// deliver hands the waiter its result. The channel is buffered so delivery
// never blocks the pool.
func (w *waiter) deliver(c *Connection, err error) {
	w.result <- acquireResult{conn: c, err: err}
}

// waitQueue is a heap ordered by priority, then arrival.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].opts.Priority != q[j].opts.Priority {
		return q[i].opts.Priority > q[j].opts.Priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// ordered returns the queued waiters in service order without changing
// the queue.
func (q waitQueue) ordered() []*waiter {
	out := make(waitQueue, len(q))
	copy(out, q)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.opts.Priority != b.opts.Priority {
			return a.opts.Priority > b.opts.Priority
		}
		return a.seq < b.seq
	})
	return out
}

// remove takes w out of the queue and reports whether it was still queued.
func (q *waitQueue) remove(w *waiter) bool {
	if w.index < 0 || w.index >= len(*q) || (*q)[w.index] != w {
		return false
	}
	heap.Remove(q, w.index)
	return true
}
