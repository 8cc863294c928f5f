package client

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reconnection defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Backoff returns the wait before reconnect number retry (1-based).
type Backoff interface {
	Delay(retry int) time.Duration
}

// FixedBackoff waits the same delay before every reconnect.
type FixedBackoff time.Duration

// Delay implements Backoff.
func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff doubles Base for every consecutive retry, capped at Max.
// A zero Max caps at 16 times Base.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

const defaultBackoffFactor = 16

// Delay implements Backoff.
func (b ExponentialBackoff) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	if b.Base <= 0 {
		return 0
	}
	limit := b.Max
	if limit <= 0 {
		limit = b.Base * defaultBackoffFactor
		if limit/defaultBackoffFactor != b.Base {
			limit = time.Duration(math.MaxInt64)
		}
	}
	delay := b.Base
	for i := 1; i < retry; i++ {
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

// NewBackoff maps a configured policy name to a Backoff.
func NewBackoff(kind string, delay time.Duration) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "fixed":
		return FixedBackoff(delay), nil
	case "exponential":
		return ExponentialBackoff{Base: delay, Max: defaultBackoffFactor * delay}, nil
	default:
		return nil, fmt.Errorf("unknown backoff %q", kind)
	}
}

// Retry is the notice emitted before a reconnect.
type Retry struct {
	Attempt int
	Max     int
	Delay   time.Duration
}

func (r Retry) String() string {
	return fmt.Sprintf("Connection lost. Retrying (%d/%d)...", r.Attempt, r.Max)
}

// Supervisor bounds reconnection of an Attempt. It owns the consecutive retry
// count: a socket that reaches onOpen resets the count, and MaxRetries
// consecutive unexpected closures end the attempt in StateFailed.
type Supervisor struct {
	MaxRetries int
	Backoff    Backoff
}

func (s Supervisor) withDefaults() Supervisor {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.Backoff == nil {
		s.Backoff = FixedBackoff(DefaultRetryDelay)
	}
	return s
}

func (s Supervisor) run(ctx context.Context, a *Attempt) (Result, error) {
	s = s.withDefaults()
	retries := 0
	for {
		out := a.connectOnce(ctx)
		if out.opened {
			retries = 0
		}
		switch out.kind {
		case outcomeDone:
			return a.result(retries), out.err
		case outcomeStopped:
			return a.stop(ctx, retries)
		}

		retries++
		a.logger.Warn("progress socket closed unexpectedly",
			zap.Int("retry", retries),
			zap.Int("max_retries", s.MaxRetries),
			zap.Error(out.err),
		)
		if retries >= s.MaxRetries {
			return a.exhaust(retries, out.err)
		}
		notice := Retry{Attempt: retries, Max: s.MaxRetries, Delay: s.Backoff.Delay(retries)}
		if !a.retrying(notice) {
			return a.stop(ctx, retries)
		}
		if err := sleepWithContext(ctx, notice.Delay); err != nil {
			return a.stop(ctx, retries)
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
