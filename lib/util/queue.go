// This file implements a blocking multi-producer single-consumer FIFO queue.
//
// Features and Guarantees:
//
//   - Strict FIFO: items are delivered in the order in which Push returned
//   - Unbounded Size: the queue grows as needed
//   - Thread-Safe writes: any number of goroutines may call Push concurrently
//   - Single Consumer: one goroutine waits on Pop; producers signal a condition
//     variable, the consumer waits on it while the queue is empty
//   - Graceful Close: after Close, Pop still returns every queued item and then
//     reports that the queue is drained
package util

import "sync"

// Queue is a mutex and condition variable protected FIFO queue
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

// NewQueue creates an empty queue
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available and removes it from the queue.
// The boolean is false once the queue is closed and fully drained.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero // help go gc
	q.head++

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Close prevents further pushes and wakes up a waiting consumer.
// Items already queued are still delivered by Pop.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// IsClosed returns true if the queue is closed
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
