// Package observe implements the change-notification side of the core: a
// generic synchronous emitter and the object-change context the registry
// drives after every successful mutation.
package observe

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Handle identifies a registered observer for later removal.
type Handle uint64

// Emitter fans values out to registered observers synchronously, in
// registration order. Nothing is persisted: an observer registered after an
// Emit never sees that value.
//
// Emitter is not safe for concurrent use. The intended discipline is
// consumer-side only; the registry and all observers live on the same
// foreground context.
type Emitter[T any] struct {
	observers *orderedmap.OrderedMap[Handle, func(T)]
	nextID    Handle
}

// NewEmitter creates an empty Emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{observers: orderedmap.New[Handle, func(T)]()}
}

// AddObserver registers fn and returns a handle for removal. Observers are
// invoked in registration order.
func (e *Emitter[T]) AddObserver(fn func(T)) Handle {
	e.nextID++
	h := e.nextID
	e.observers.Set(h, fn)
	return h
}

// RemoveObserver unregisters the observer identified by h. Removing an
// unknown handle is a no-op.
func (e *Emitter[T]) RemoveObserver(h Handle) {
	e.observers.Delete(h)
}

// Emit invokes every currently registered observer with v, synchronously,
// in registration order.
func (e *Emitter[T]) Emit(v T) {
	for pair := e.observers.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value(v)
	}
}

// Len returns the number of registered observers.
func (e *Emitter[T]) Len() int {
	return e.observers.Len()
}
