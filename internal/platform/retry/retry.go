// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config bounds how Do paces repeated attempts.
type Config struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// InitialDelay is the pause before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the pause between attempts.
	MaxDelay time.Duration
	// Base is the multiplier applied to the delay after each attempt.
	Base float64
	// Jitter randomizes each delay downward by up to this fraction.
	Jitter float64
}

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	defaultBase         = 2.0
)

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Base < 1 {
		c.Base = defaultBase
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = 0
	}
	return c
}

// Do runs op, retrying failures until it succeeds, the retry budget runs
// out, retryable rejects the error, or ctx ends. A nil retryable treats
// every error as retryable. The last attempt's error is returned.
func Do(ctx context.Context, cfg Config, op func(context.Context) error, retryable func(error) bool) error {
	cfg = cfg.normalized()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delayFor(cfg, attempt)):
		}
	}
}

func delayFor(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Base, float64(attempt))
	if capped := float64(cfg.MaxDelay); delay > capped {
		delay = capped
	}
	if cfg.Jitter > 0 {
		delay *= 1 - cfg.Jitter*rand.Float64()
	}
	return time.Duration(delay)
}
