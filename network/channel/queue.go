package channel

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// InputQueue is a FIFO with blocking, budgeted dequeue. Items, waiters and
// the shutdown flag share one lock.
type InputQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	waiters  []chan struct{}
	shutdown bool
}

// Enqueue adds item and wakes one waiter. It reports false after Shutdown.
func (q *InputQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return false
	}
	q.items = append(q.items, item)
	q.signalLocked()
	return true
}

// Len returns the number of queued items.
func (q *InputQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dequeue returns the oldest item. When the queue is empty it waits for a
// signal until ctx ends, then tries once more. It reports false on timeout
// or shutdown; only cancellation of ctx is an error. An expired ctx never
// blocks.
func (q *InputQueue[T]) Dequeue(ctx context.Context) (T, bool, error) {
	var zero T
	q.mu.Lock()
	if item, ok := q.popLocked(); ok {
		q.mu.Unlock()
		return item, true, nil
	}
	if q.shutdown || ctx.Err() != nil {
		q.mu.Unlock()
		return zero, false, cancelled(ctx)
	}
	wake := q.waitLocked()
	q.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropWaiterLocked(wake)
	if item, ok := q.popLocked(); ok {
		return item, true, nil
	}
	return zero, false, cancelled(ctx)
}

// WaitForItem reports whether an item is available, waiting like Dequeue
// without consuming it.
func (q *InputQueue[T]) WaitForItem(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.mu.Unlock()
		return true, nil
	}
	if q.shutdown || ctx.Err() != nil {
		q.mu.Unlock()
		return false, cancelled(ctx)
	}
	wake := q.waitLocked()
	q.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropWaiterLocked(wake)
	if len(q.items) > 0 {
		// Leave the item for a Dequeue that may be waiting as well.
		q.signalLocked()
		return true, nil
	}
	return false, cancelled(ctx)
}

// Shutdown rejects further items, releases every waiter and returns the
// items that were never dequeued.
func (q *InputQueue[T]) Shutdown() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
	items := q.items
	q.items = nil
	return items
}

func (q *InputQueue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *InputQueue[T]) waitLocked() chan struct{} {
	w := make(chan struct{})
	q.waiters = append(q.waiters, w)
	return w
}

func (q *InputQueue[T]) signalLocked() {
	if len(q.waiters) == 0 {
		return
	}
	close(q.waiters[0])
	q.waiters = q.waiters[1:]
}

// dropWaiterLocked removes w if it timed out before being signalled and
// passes a signal on when items remain.
func (q *InputQueue[T]) dropWaiterLocked(w chan struct{}) {
	if i := slices.Index(q.waiters, w); i >= 0 {
		q.waiters = slices.Delete(q.waiters, i, i+1)
		return
	}
	if len(q.items) > 1 {
		q.signalLocked()
	}
}

// cancelled returns the cancellation of ctx; an expired deadline is not an
// error for a try-style wait.
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
