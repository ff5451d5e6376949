package callback

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Task is one pending callback delivery.
type Task struct {
	URL      string
	Payload  any
	RecordID string
	// Parent is the span of the request that scheduled the callback.
	Parent trace.SpanContext
}

// Queue buffers tasks between the delay timers and the workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) bool
	Dequeue(ctx context.Context) (Task, bool)
	Depth() int
	Capacity() int
}

type inMemoryQueue struct {
	ch chan Task
}

func NewInMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &inMemoryQueue{ch: make(chan Task, capacity)}
}

// Enqueue waits for room until ctx is done.
func (q *inMemoryQueue) Enqueue(ctx context.Context, task Task) bool {
	if q == nil || task.URL == "" {
		return false
	}
	select {
	case q.ch <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryQueue) Dequeue(ctx context.Context) (Task, bool) {
	if q == nil {
		return Task{}, false
	}
	select {
	case task := <-q.ch:
		return task, true
	case <-ctx.Done():
		return Task{}, false
	}
}

// Depth is the number of tasks waiting for a worker.
func (q *inMemoryQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}
