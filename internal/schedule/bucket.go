// Package schedule implements the five-level priority scheduler with
// per-packet deadlines and a token-bucket bandwidth governor.
package schedule

import "time"

// TokenBucket is a byte-denominated rate limiter. Tokens accrue at the
// configured rate and sending a packet of size s consumes s tokens. A rate
// of 0 disables the governor entirely.
type TokenBucket struct {
	rate     float64 // bytes per second; 0 = unlimited
	capacity float64
	tokens   float64
	last     time.Time
	started  bool
}

// NewTokenBucket creates a bucket for the given rate in bytes/sec. The
// bucket is capped at max(1·rate, 2·mtu) and starts full.
func NewTokenBucket(rate int64, mtu int) *TokenBucket {
	capacity := float64(rate)
	if c := float64(2 * mtu); c > capacity {
		capacity = c
	}
	return &TokenBucket{
		rate:     float64(rate),
		capacity: capacity,
		tokens:   capacity,
	}
}

// Unlimited reports whether the governor is bypassed.
func (b *TokenBucket) Unlimited() bool {
	return b.rate == 0
}

// Allow consumes size tokens if available, refilling first. It always
// permits the send when the bucket is unlimited.
func (b *TokenBucket) Allow(size int, now time.Time) bool {
	if b.rate == 0 {
		return true
	}
	b.refill(now)
	if b.tokens < float64(size) {
		return false
	}
	b.tokens -= float64(size)
	return true
}

func (b *TokenBucket) refill(now time.Time) {
	if !b.started {
		b.started = true
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}
