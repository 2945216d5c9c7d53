package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket smooths request dispatch to a fixed requests-per-minute rate.
// Wait blocks until the next slot is available or the context is cancelled.
type LeakyBucket struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	closed   bool
}

// NewLeakyBucketFromRPM creates a bucket that releases one permit every
// 60s/rpm. rpm must be positive.
func NewLeakyBucketFromRPM(rpm int) *LeakyBucket {
	b := &LeakyBucket{}
	b.SetRPM(rpm)
	return b
}

// SetRPM adjusts the release rate. Safe to call while waiters are blocked;
// the new rate applies from the next permit onward.
func (b *LeakyBucket) SetRPM(rpm int) {
	if b == nil || rpm <= 0 {
		return
	}
	b.mu.Lock()
	b.interval = time.Duration(float64(time.Minute) / float64(rpm))
	b.mu.Unlock()
}

// Wait blocks until a permit is available.
func (b *LeakyBucket) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	now := time.Now()
	at := b.next
	if at.Before(now) {
		at = now
	}
	b.next = at.Add(b.interval)
	b.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close disables the bucket; subsequent Waits return immediately.
func (b *LeakyBucket) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.interval = 0
	b.mu.Unlock()
}
