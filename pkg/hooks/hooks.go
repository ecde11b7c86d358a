// Package hooks provides ordered, synchronous extension points. Each List is
// one extension point: callbacks run in registration order and receive a
// context value whose designated output fields they may mutate.
package hooks

import "context"

// Func is a single registered callback.
type Func[T any] func(ctx context.Context, v T) error

// List is an ordered collection of callbacks for one extension point.
// Register at wiring time, Invoke at runtime; Lists are not safe for
// concurrent registration after serving begins.
type List[T any] struct {
	fns []Func[T]
}

// Register appends a callback. Callbacks run in registration order.
func (l *List[T]) Register(fn Func[T]) {
	l.fns = append(l.fns, fn)
}

// Invoke runs every callback in order. The first error aborts the chain and
// is returned to the caller.
func (l *List[T]) Invoke(ctx context.Context, v T) error {
	for _, fn := range l.fns {
		if err := fn(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of registered callbacks.
func (l *List[T]) Len() int { return len(l.fns) }
