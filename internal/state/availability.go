package state

import (
	"context"
	"time"
)

// WaitReady polls the authority's liveness probe until it answers, the
// backoff policy's attempts are spent, or maxWait elapses. Probe spacing is
// the policy's scaled delay. On success it performs the initial cache pull
// and reports Ready.
func (e *Engine) WaitReady(ctx context.Context, maxWait time.Duration) AvailabilityState {
	deadline := e.clock.Now().Add(maxWait)
	policy := e.opts.Backoff
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		e.retries.Store(int32(attempt))
		e.avail.Store(int32(AvailWaiting))

		if err := e.auth.Probe(ctx); err == nil {
			if tree, _, err := e.auth.Pull(ctx, e.opts.Selector); err == nil {
				e.cache.replace(tree)
			} else {
				e.log.Printf("initial pull failed: %v", err)
			}
			e.avail.Store(int32(AvailReady))
			return AvailReady
		}

		if attempt >= maxAttempts || !e.clock.Now().Before(deadline) {
			e.avail.Store(int32(AvailUnavailable))
			return AvailUnavailable
		}
		select {
		case <-ctx.Done():
			e.avail.Store(int32(AvailUnavailable))
			return AvailUnavailable
		case <-e.clock.After(policy.Delay(attempt)):
		}
	}
}

// Retries reports how many probe attempts the last WaitReady made.
func (e *Engine) Retries() int { return int(e.retries.Load()) }
