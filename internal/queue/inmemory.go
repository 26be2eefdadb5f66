package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
)

// InMemoryQueue implements MessageQueue using an in-memory channel.
// It is used when the server and the worker run in the same process.
type InMemoryQueue struct {
	ch     chan *ReportUploaded
	closed bool
	mu     sync.RWMutex
}

// InMemoryConfig holds configuration for creating an InMemoryQueue.
type InMemoryConfig struct {
	// BufferSize is the channel buffer size (default: 100)
	BufferSize int
}

// NewInMemoryQueue creates a new InMemoryQueue instance.
// The caller is responsible for calling Close() when done.
func NewInMemoryQueue(cfg InMemoryConfig) *InMemoryQueue {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &InMemoryQueue{
		ch: make(chan *ReportUploaded, bufferSize),
	}
}

// Publish sends a message to the in-memory queue.
func (q *InMemoryQueue) Publish(ctx context.Context, msg *ReportUploaded) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	}
}

// Subscribe consumes messages until the context is cancelled or the queue
// is closed. Failed messages are logged and dropped; there are no retries.
func (q *InMemoryQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	for {
		select {
		case msg, ok := <-q.ch:
			if !ok {
				return nil
			}

			if err := handler(ctx, msg); err != nil {
				logctx.FromContext(ctx).Error().Err(err).
					Str("report_id", msg.ReportID).
					Msg("failed to process message")
				continue
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the channel and prevents further publishing.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.ch)
	return nil
}
