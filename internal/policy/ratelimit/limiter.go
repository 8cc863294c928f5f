// Package ratelimit throttles job triggers with one token bucket per project.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds the per-project trigger budget. RPS <= 0 disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter hands out trigger tokens per project.
type Limiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[int64]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow consumes a token for projectID and reports whether one was available.
func (l *Limiter) Allow(projectID int64) bool {
	return l.bucket(projectID).Allow()
}

// Projects returns the number of projects with a bucket.
func (l *Limiter) Projects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) bucket(projectID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[projectID]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[projectID] = limiter
	}
	return limiter
}
