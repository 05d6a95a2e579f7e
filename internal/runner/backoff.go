package runner

import (
	"context"
	"time"
)

// BackoffManager manages exponential backoff between retry attempts.
type BackoffManager struct {
	currentInterval time.Duration
	maxInterval     time.Duration
	initialInterval time.Duration
}

func NewBackoffManager(initialInterval, maxInterval time.Duration) *BackoffManager {
	return &BackoffManager{
		currentInterval: initialInterval,
		maxInterval:     maxInterval,
		initialInterval: initialInterval,
	}
}

// Wait sleeps for the current interval, then doubles it up to the
// maximum. Returns early with the context error if ctx is canceled.
func (b *BackoffManager) Wait(ctx context.Context) error {
	t := time.NewTimer(b.currentInterval)
	defer t.Stop()

	next := b.currentInterval * 2
	if next > b.maxInterval {
		next = b.maxInterval
	}
	b.currentInterval = next

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset restores the interval to its initial value.
func (b *BackoffManager) Reset() {
	b.currentInterval = b.initialInterval
}
