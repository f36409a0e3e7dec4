package core

import "sync"

// WorkQueue is a FIFO queue that de-duplicates while an item waits. The
// engine schedules reconciliation passes through one keyed by application
// id: a burst of triggers for the same application collapses into a single
// queued pass, and the id becomes enqueueable again once taken.
type WorkQueue[T comparable] struct {
	mu      sync.Mutex
	waiting map[T]struct{}
	order   []T
}

func NewWorkQueue[T comparable]() *WorkQueue[T] {
	return &WorkQueue[T]{waiting: make(map[T]struct{})}
}

// Add enqueues item unless it is already waiting.
func (q *WorkQueue[T]) Add(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, queued := q.waiting[item]; queued {
		return
	}
	q.waiting[item] = struct{}{}
	q.order = append(q.order, item)
}

// Get takes the oldest waiting item. The second return is false when the
// queue is empty.
func (q *WorkQueue[T]) Get() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		var zero T
		return zero, false
	}
	item := q.order[0]
	q.order = q.order[1:]
	delete(q.waiting, item)
	return item, true
}

// Len reports how many items are waiting.
func (q *WorkQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.order)
}
