package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterRefillsUntilClosed(t *testing.T) {
	limiter := newRateLimiter(100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}

	limiter.Close()
	time.Sleep(20 * time.Millisecond)
	// Drain a token the ticker may have added before it stopped.
	select {
	case <-limiter.tokens:
	default:
	}
	select {
	case <-limiter.tokens:
		t.Error("bucket refilled after Close")
	case <-time.After(50 * time.Millisecond):
	}
	if err := limiter.Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() after Close error = %v, want ErrClosed", err)
	}
}

func TestNilRateLimiter(t *testing.T) {
	var limiter *rateLimiter
	if err := limiter.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	limiter.Close()
	if newRateLimiter(0, 5) != nil {
		t.Error("newRateLimiter(0) should disable limiting")
	}
}
