package concurrency

import (
	"context"
	"slices"
)

func (l *limiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Queued waiters go first.
	if len(l.waiters) > 0 || l.inUse >= l.capacity {
		return false
	}
	l.inUse++
	return true
}

func (l *limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if len(l.waiters) == 0 && l.inUse < l.capacity {
		l.inUse++
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		select {
		case <-ready:
			// Granted while cancelling; hand the permit on.
			l.inUse--
			l.grant()
		default:
			l.waiters = slices.DeleteFunc(l.waiters, func(w chan struct{}) bool { return w == ready })
		}
		return ctx.Err()
	}
}

func (l *limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse == 0 {
		panic("concurrency: released more permits than acquired")
	}
	l.inUse--
	l.grant()
}

// grant hands free permits to queued waiters. Must be called with l.mu held.
func (l *limiter) grant() {
	for len(l.waiters) > 0 && l.inUse < l.capacity {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.inUse++
		close(ready)
	}
}

func (l *limiter) Capacity() int {
	return l.capacity
}

func (l *limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.inUse
}

func (l *limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}
