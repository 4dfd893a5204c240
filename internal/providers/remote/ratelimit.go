package remote

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled by a ticker. A nil limiter never
// blocks.
type rateLimiter struct {
	tokens   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(ratePerSec, burst int) *rateLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := &rateLimiter{
		tokens: make(chan struct{}, burst),
		stop:   make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		limiter.tokens <- struct{}{}
	}

	interval := time.Second / time.Duration(ratePerSec)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-limiter.stop:
				return
			case <-ticker.C:
				select {
				case limiter.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()

	return limiter
}

func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-l.stop:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrClosed
	case <-l.tokens:
		return nil
	}
}

// Close stops the refill goroutine. Later calls to Wait return ErrClosed.
func (l *rateLimiter) Close() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stop) })
}
