// Package ringbuf provides a fixed-capacity sliding window that keeps the
// most recent N values. Pushing into a full window evicts the oldest value.
// Used for trailing indicator windows (VWMA, ROC lookback).
package ringbuf

// Window is a circular buffer of the last Cap() values.
// Not goroutine-safe: owned by a single indicator instance.
type Window[T any] struct {
	buf  []T
	head int // index of the oldest element
	n    int // number of stored elements
}

// New creates a window holding at most capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v. If the window was full, the evicted oldest value is
// returned with ok=true.
func (w *Window[T]) Push(v T) (evicted T, ok bool) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return evicted, false
	}
	evicted = w.buf[w.head]
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return evicted, true
}

// At returns the i-th stored value, 0 being the oldest.
func (w *Window[T]) At(i int) T {
	if i < 0 || i >= w.n {
		panic("ringbuf: index out of range")
	}
	return w.buf[(w.head+i)%len(w.buf)]
}

// Oldest returns the oldest stored value.
func (w *Window[T]) Oldest() (T, bool) {
	var zero T
	if w.n == 0 {
		return zero, false
	}
	return w.buf[w.head], true
}

// Do calls fn for every stored value, oldest first.
func (w *Window[T]) Do(fn func(T)) {
	for i := 0; i < w.n; i++ {
		fn(w.buf[(w.head+i)%len(w.buf)])
	}
}

// Len returns the number of stored values.
func (w *Window[T]) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap() values.
func (w *Window[T]) Full() bool { return w.n == len(w.buf) }
