package filemanager

import (
	"context"
	"fmt"
	"sync"
)

// Future is the await-able handle returned by every public operation. It
// completes exactly once, with either a value or an error.
type Future struct {
	requestID string
	consumer  string
	op        Operation

	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture(requestID, consumer string, op Operation) *Future {
	return &Future{
		requestID: requestID,
		consumer:  consumer,
		op:        op,
		done:      make(chan struct{}),
	}
}

// rejectedFuture returns a future that has already failed.
func rejectedFuture(consumer string, op Operation, err error) *Future {
	f := newFuture("", consumer, op)
	f.reject(err)
	return f
}

func (f *Future) RequestID() string    { return f.requestID }
func (f *Future) Consumer() string     { return f.consumer }
func (f *Future) Operation() Operation { return f.op }

// Done is closed once the future completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future completes or ctx ends. Giving up on ctx
// leaves the call pending; it does not cancel the request.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bytes waits for a Load result.
func (f *Future) Bytes(ctx context.Context) ([]byte, error) {
	v, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s result is %T, not bytes", f.op, v)
	}
	return b, nil
}

func (f *Future) resolve(v any) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		completed = true
	})
	return completed
}

func (f *Future) reject(err error) bool {
	completed := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}
