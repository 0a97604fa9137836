package trigger

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same coalescing and
// exactly-once claim semantics as FileQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[string]Trigger // keyed by kind+session
	order   []string
	wake    chan struct{}
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]Trigger),
		wake:    make(chan struct{}, 1),
	}
}

func key(t Trigger) string {
	return string(t.Kind) + "|" + t.SessionID
}

// Enqueue adds or coalesces a trigger and nudges Wake.
func (q *MemoryQueue) Enqueue(ctx context.Context, t Trigger) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	q.mu.Lock()
	k := key(t)
	if _, exists := q.pending[k]; !exists {
		q.order = append(q.order, k)
	}
	q.pending[k] = t
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Claim removes the oldest pending trigger.
func (q *MemoryQueue) Claim(ctx context.Context) (Trigger, bool, error) {
	select {
	case <-ctx.Done():
		return Trigger{}, false, ctx.Err()
	default:
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return Trigger{}, false, nil
	}
	k := q.order[0]
	q.order = q.order[1:]
	t := q.pending[k]
	delete(q.pending, k)
	return t, true, nil
}

// Wake returns the advisory wake channel.
func (q *MemoryQueue) Wake() <-chan struct{} {
	return q.wake
}

// Close is a no-op for the in-memory queue.
func (q *MemoryQueue) Close() error { return nil }
