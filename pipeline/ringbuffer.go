package pipeline

import "sync"

// ringBuffer is a bounded FIFO that evicts its oldest element when full.
type ringBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	size  int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[T]{
		items: make([]T, capacity),
	}
}

// Push appends item. When the buffer is full the oldest element is evicted
// and returned so the caller can release it.
func (rb *ringBuffer[T]) Push(item T) (evicted T, dropped bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == len(rb.items) {
		evicted = rb.items[rb.head]
		rb.items[rb.head] = item
		rb.head = (rb.head + 1) % len(rb.items)
		return evicted, true
	}

	rb.items[(rb.head+rb.size)%len(rb.items)] = item
	rb.size++
	return evicted, false
}

func (rb *ringBuffer[T]) Pop() (T, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	if rb.size == 0 {
		return zero, false
	}

	item := rb.items[rb.head]
	rb.items[rb.head] = zero
	rb.head = (rb.head + 1) % len(rb.items)
	rb.size--
	return item, true
}

// Drain removes and returns every element, oldest first.
func (rb *ringBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	out := make([]T, 0, rb.size)
	for rb.size > 0 {
		out = append(out, rb.items[rb.head])
		rb.items[rb.head] = zero
		rb.head = (rb.head + 1) % len(rb.items)
		rb.size--
	}
	return out
}

func (rb *ringBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

func (rb *ringBuffer[T]) Cap() int {
	return len(rb.items)
}
