package mock

import (
	"context"
	"sync/atomic"
	"time"
)

func NewWaiter() Waiter {
	return Waiter{
		active: new(atomic.Int32),
	}
}

// Waiter is like a 'sync.WaitGroup', save that its 'Wait' function accepts a
// 'context.Context' and supports deadlines.
type Waiter struct {
	active *atomic.Int32
}

func (w Waiter) Add() {
	w.active.Add(1)
}

func (w Waiter) Done() {
	log.Debug("waiter.Done() called", "left", w.active.Add(-1))
}

func (w Waiter) WaitContext(ctx context.Context) error {
	for w.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return context.DeadlineExceeded
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}
