package registry

// boundedLog is an ordered sequence with a fixed capacity and strict FIFO
// eviction: appending beyond capacity drops the oldest entry.
type boundedLog[T any] struct {
	cap   int
	items []T
}

func newBoundedLog[T any](capacity int) boundedLog[T] {
	return boundedLog[T]{cap: capacity}
}

func (l *boundedLog[T]) append(v T) {
	if len(l.items) == l.cap {
		copy(l.items, l.items[1:])
		l.items[len(l.items)-1] = v
		return
	}
	l.items = append(l.items, v)
}

func (l *boundedLog[T]) len() int {
	return len(l.items)
}

// last returns the most recent entry; ok is false when the log is empty.
func (l *boundedLog[T]) last() (v T, ok bool) {
	if len(l.items) == 0 {
		return v, false
	}
	return l.items[len(l.items)-1], true
}

// snapshot returns a copy of the entries in arrival order.
func (l *boundedLog[T]) snapshot() []T {
	if l.items == nil {
		return nil
	}
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *boundedLog[T]) clone() boundedLog[T] {
	return boundedLog[T]{cap: l.cap, items: l.snapshot()}
}
