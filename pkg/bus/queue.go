// Package bus provides the job queue that funnels every trigger source
// into the single agent worker.
package bus

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO job queue with exactly one consumer.
// Enqueue never blocks the producer; Dequeue blocks until a job arrives
// or the context is cancelled. Strict arrival order, no priorities.
type Queue struct {
	mu     sync.Mutex
	jobs   []Job
	signal chan struct{} // capacity 1, poked on every enqueue
	closed bool
}

// NewQueue creates an empty job queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. Safe for concurrent producers; never blocks.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest job, blocking until one is
// available. Returns ok=false when ctx is cancelled or the queue is
// closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Job{}, false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return Job{}, false
		}
	}
}

// Len reports the number of queued jobs, for health reporting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting new jobs. Queued jobs can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
