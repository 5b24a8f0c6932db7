package onramp

import (
	"context"
	"sync"
)

// A Future is the pending result of a call. It is settled exactly once,
// either with a value or with an error; later attempts to settle it have no
// effect.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   interface{}
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(value interface{}, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	close(f.done)
	return true
}

func (f *Future) resolve(value interface{}) bool {
	return f.settle(value, nil)
}

func (f *Future) reject(err error) bool {
	return f.settle(nil, err)
}

// Done returns a channel that is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the outcome without blocking; both results are nil while
// the future is pending.
func (f *Future) Result() (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the future is settled or ctx is done. Giving up on the
// context does not cancel the call; the peer is never told.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
