package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitSpacesPermits(t *testing.T) {
	// 1200 rpm = one permit every 50ms.
	b := NewLeakyBucketFromRPM(1200)
	defer b.Close()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	// First permit is immediate; the next two are spaced one interval
	// apart each.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("three permits took %v, want >= 100ms", elapsed)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	b := NewLeakyBucketFromRPM(1) // one permit per minute
	defer b.Close()

	ctx := context.Background()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(cancelled); err == nil {
		t.Fatal("expected context error while blocked on a slow bucket")
	}
}

func TestClosedBucketNeverBlocks(t *testing.T) {
	b := NewLeakyBucketFromRPM(1)
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	b.Close()

	done := make(chan error, 1)
	go func() { done <- b.Wait(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait after close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait after close blocked")
	}
}

func TestNilBucketIsANoOp(t *testing.T) {
	var b *LeakyBucket
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("nil wait: %v", err)
	}
	b.SetRPM(60)
	b.Close()
}
