package context

import (
	"context"
	"errors"
	"sync"
	"time"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
)

// Source is a cancellation source shared by every stage of a pipeline.
// It can be signalled directly or after a delay, and exposes a context that
// is done once cancellation has been requested.
type Source struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewSource creates a cancellation source that is not yet signalled.
func NewSource() *Source {
	return NewSourceWithParent(context.Background())
}

// NewSourceWithParent creates a cancellation source that is also signalled
// when parent is done.
func NewSourceWithParent(parent context.Context) *Source {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Source{ctx: ctx, cancel: cancel}
}

// Context returns a context that is done once cancellation is requested.
func (s *Source) Context() context.Context {
	return s.ctx
}

// Cancel signals the source immediately.
func (s *Source) Cancel() {
	s.stopTimer()
	s.cancel(tcerrors.ErrCanceled)
}

// CancelAfter schedules cancellation after delay. A later call replaces the
// pending schedule. A delay of zero or less cancels immediately.
func (s *Source) CancelAfter(delay time.Duration) {
	if delay <= 0 {
		s.Cancel()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		s.cancel(tcerrors.ErrTimeout)
	})
}

// CancelAt schedules cancellation at deadline.
func (s *Source) CancelAt(deadline time.Time) {
	s.CancelAfter(time.Until(deadline))
}

// IsCancellationRequested reports whether the source has been signalled.
func (s *Source) IsCancellationRequested() bool {
	return IsCanceled(s.ctx)
}

// Err returns the reason the source was signalled, or nil.
func (s *Source) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

// Close releases a pending CancelAfter timer without signalling the source.
func (s *Source) Close() {
	s.stopTimer()
}

func (s *Source) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// WithDeadlineOrCancel creates a context that is canceled either when the parent
// is canceled or when the deadline is reached, whichever comes first
func WithDeadlineOrCancel(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, deadline)
}

// WithTimeoutOrCancel creates a context that is canceled either when the parent
// is canceled or when the timeout duration elapses, whichever comes first
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// IsCanceled returns true if the context has been canceled
func IsCanceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// IsTimedOut returns true if the context was canceled due to a timeout,
// either a context deadline or a Source's CancelAfter schedule
func IsTimedOut(ctx context.Context) bool {
	if ctx.Err() == context.DeadlineExceeded {
		return true
	}
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), tcerrors.ErrTimeout)
}
