package stash

import (
	"sync"

	"github.com/stashworks/stash/internal/op"
)

// submission pairs an operation with the channel its result is delivered on.
type submission struct {
	op   *op.Operation
	done chan<- submitResult
}

type submitResult struct {
	receipt Receipt
	err     error
}

// submitQueue is a thread-safe FIFO for asynchronous submissions.
//
// The queue is unbounded so producers never block on the writer; the
// retention window bounds how much staged-but-unsettled work accumulates.
//
// The signal channel enables context-aware waiting in the Run loop: a
// buffered size-1 channel coalesces wakeups without losing them.
type submitQueue struct {
	mu     sync.Mutex
	items  []submission
	closed bool
	signal chan struct{}
}

func newSubmitQueue() *submitQueue {
	return &submitQueue{
		items:  make([]submission, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a submission to the back of the queue.
// Returns false if the queue is closed.
func (q *submitQueue) Enqueue(s submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *submitQueue) TryDequeue() (submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return submission{}, false
	}

	s := q.items[0]

	// Nil out the slot so the array does not retain the operation.
	q.items[0] = submission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns the wakeup channel for select-based waiting.
func (q *submitQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *submitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close refuses further submissions and wakes all waiters.
func (q *submitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
