// Package resilience provides retry with exponential backoff for calls to
// the object store and the document analysis service.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behavior. The zero value is usable: Attempts counts
// the first try, so 1 means no retries.
type Policy struct {
	// Attempts is the total number of tries. Default: 3.
	Attempts int

	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff. Default: 30s.
	MaxBackoff time.Duration

	// Jitter adds random jitter as a fraction of the computed delay.
	// Default: 0.25.
	Jitter float64
}

const backoffMultiplier = 2.0

// DefaultPolicy is the retry posture for storage and analysis calls.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Jitter:         0.25,
	}
}

// Do runs fn under the policy, retrying transient failures. The op name only
// feeds the retry log line. Context cancellation stops retries immediately.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = withDefaults(p)

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(lastErr) || attempt >= p.Attempts-1 {
			return zero, lastErr
		}

		zap.L().Warn("retrying operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(backoff(attempt, p))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func withDefaults(p Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

func backoff(attempt int, p Policy) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(backoffMultiplier, float64(attempt))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.Jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
