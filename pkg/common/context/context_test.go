package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vnykmshr/taskchain/internal/testutil"
	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
)

func TestSourceCancel(t *testing.T) {
	s := NewSource()
	testutil.AssertEqual(t, s.IsCancellationRequested(), false)
	testutil.AssertNoError(t, s.Err())

	s.Cancel()

	testutil.AssertEqual(t, s.IsCancellationRequested(), true)
	if !errors.Is(s.Err(), tcerrors.ErrCanceled) {
		t.Fatalf("got cause %v, want ErrCanceled", s.Err())
	}
	testutil.AssertEqual(t, IsTimedOut(s.Context()), false)
}

func TestSourceCancelAfterZero(t *testing.T) {
	s := NewSource()
	s.CancelAfter(0)
	testutil.AssertEqual(t, s.IsCancellationRequested(), true)
}

func TestSourceCancelAfterDelay(t *testing.T) {
	s := NewSource()
	defer s.Close()

	s.CancelAfter(20 * time.Millisecond)
	testutil.AssertEqual(t, s.IsCancellationRequested(), false)

	select {
	case <-s.Context().Done():
	case <-time.After(testutil.TestTimeout):
		t.Fatal("source was not cancelled after delay")
	}

	testutil.AssertEqual(t, IsTimedOut(s.Context()), true)
	if !errors.Is(s.Err(), tcerrors.ErrTimeout) {
		t.Fatalf("got cause %v, want ErrTimeout", s.Err())
	}
}

func TestSourceCancelAfterReplacesSchedule(t *testing.T) {
	s := NewSource()
	defer s.Close()

	s.CancelAfter(10 * time.Millisecond)
	s.CancelAfter(time.Hour)

	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, s.IsCancellationRequested(), false)
}

func TestSourceCloseStopsTimer(t *testing.T) {
	s := NewSource()
	s.CancelAfter(10 * time.Millisecond)
	s.Close()

	time.Sleep(50 * time.Millisecond)
	testutil.AssertEqual(t, s.IsCancellationRequested(), false)
}

func TestSourceWithParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewSourceWithParent(parent)

	cancel()

	testutil.AssertEqual(t, s.IsCancellationRequested(), true)
	if !errors.Is(s.Err(), context.Canceled) {
		t.Fatalf("got cause %v, want context.Canceled", s.Err())
	}
}

func TestIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	testutil.AssertEqual(t, IsCanceled(ctx), false)
	cancel()
	testutil.AssertEqual(t, IsCanceled(ctx), true)
}

func TestIsTimedOut(t *testing.T) {
	ctx, cancel := WithTimeoutOrCancel(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	testutil.AssertEqual(t, IsTimedOut(ctx), true)
}
