package coordination

import "sync"

// inbox is an unbounded FIFO used to decouple broadcast publishers from
// subscriber handlers. Its ring doubles once 70% full, so Put never blocks;
// a handler that publishes while handling cannot deadlock the hub.
type inbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool
}

func newInbox[T any](capacity int) *inbox[T] {
	if capacity < 2 {
		capacity = 2
	}
	b := &inbox[T]{ring: make([]T, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Put appends v. Returns false after close.
func (b *inbox[T]) Put(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if (b.count+1)*10 >= len(b.ring)*7 {
		b.grow()
	}
	b.ring[(b.head+b.count)%len(b.ring)] = v
	b.count++
	b.cond.Signal()
	return true
}

// Take blocks until an item is available. It returns false once the inbox
// is closed and drained.
func (b *inbox[T]) Take() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	var zero T
	if b.count == 0 {
		return zero, false
	}
	v := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return v, true
}

// Close wakes every waiter; queued items are still delivered.
func (b *inbox[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *inbox[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *inbox[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// grow doubles the ring, unwrapping it. Caller holds mu.
func (b *inbox[T]) grow() {
	next := make([]T, len(b.ring)*2)
	n := copy(next, b.ring[b.head:])
	if n < b.count {
		copy(next[n:], b.ring[:b.count-n])
	}
	b.ring = next
	b.head = 0
}
