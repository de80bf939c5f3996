package concurrency

import (
	"context"
	"sync"

	"github.com/vnykmshr/taskchain/pkg/common/validation"
)

// Limiter controls the number of operations that may run concurrently.
type Limiter interface {
	// Acquire takes a permit if one is free. It never blocks.
	Acquire() bool

	// Wait blocks until a permit is taken or ctx is done.
	Wait(ctx context.Context) error

	// Release returns a permit. It panics if no permit is held.
	Release()

	// Capacity returns the maximum number of permits.
	Capacity() int

	// Available returns the number of free permits.
	Available() int

	// InUse returns the number of permits held.
	InUse() int
}

// New creates a limiter with capacity permits.
func New(capacity int) (Limiter, error) {
	if err := validation.ValidatePositive("concurrency", "capacity", capacity); err != nil {
		return nil, err
	}
	return &limiter{capacity: capacity}, nil
}

type limiter struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}
