package state

import (
	"context"
	"time"
)

// BackoffPolicy spaces retries: attempt n sleeps BaseDelay*n before the
// next try.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(attempt)
}

// Retry runs fn up to MaxAttempts times, sleeping the scaled delay between
// attempts. The last error is returned when every attempt fails.
func (p BackoffPolicy) Retry(ctx context.Context, clock Clock, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.Delay(attempt)):
		}
	}
	return err
}

// AvailabilityState tracks the supervisor's view of the authority.
type AvailabilityState int

const (
	AvailUnknown AvailabilityState = iota
	AvailWaiting
	AvailReady
	AvailUnavailable
)

func (s AvailabilityState) String() string {
	switch s {
	case AvailUnknown:
		return "unknown"
	case AvailWaiting:
		return "waiting"
	case AvailReady:
		return "ready"
	case AvailUnavailable:
		return "unavailable"
	}
	return "invalid"
}
