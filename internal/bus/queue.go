package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"tradepulse/internal/model"
)

var (
	ErrQueueFull   = errors.New("tick queue full")
	ErrQueueClosed = errors.New("tick queue closed")
)

// Queue is the bounded, non-blocking hand-off between the ingestion
// goroutine and the dispatch goroutine. A full queue rejects the publish
// instead of stalling the provider session.
type Queue struct {
	ch     chan model.Tick
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan model.Tick, capacity)}
}

// TryPublish enqueues a tick without blocking.
func (q *Queue) TryPublish(tick model.Tick) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- tick:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new ticks.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes ticks until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(model.Tick)) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-q.ch:
			if !ok {
				return
			}
			handler(tick)
		}
	}
}
