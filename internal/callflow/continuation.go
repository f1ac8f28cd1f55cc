package callflow

import (
	"context"
	"sync"
)

// Continuation is a one-shot completion point. The engine settles it exactly
// once; a second settle is a programming error and returns ErrAlreadySettled.
//
// Wait takes a context so callers can race any await against a timer.
type Continuation[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
}

func newContinuation[T any]() *Continuation[T] {
	return &Continuation[T]{done: make(chan struct{})}
}

func settledContinuation[T any](v T, err error) *Continuation[T] {
	c := newContinuation[T]()
	_ = c.settle(v, err)
	return c
}

func (c *Continuation[T]) resolve(v T) error {
	return c.settle(v, nil)
}

func (c *Continuation[T]) reject(err error) error {
	var zero T
	return c.settle(zero, err)
}

func (c *Continuation[T]) settle(v T, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return ErrAlreadySettled
	}
	c.settled = true
	c.val, c.err = v, err
	close(c.done)
	return nil
}

// Done is closed once the continuation is settled.
func (c *Continuation[T]) Done() <-chan struct{} { return c.done }

// Settled reports whether a value or error has been delivered.
func (c *Continuation[T]) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// Wait blocks until the continuation settles or ctx is done.
func (c *Continuation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
