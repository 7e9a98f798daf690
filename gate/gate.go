package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"gridbot/logger"
)

// Policy controls how a call is retried. Zero values are replaced by
// defaults in New.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	MinDelay    time.Duration // first backoff delay
	MaxDelay    time.Duration // backoff ceiling
	Factor      float64       // backoff growth factor
	Jitter      bool          // randomize delays to avoid thundering herd
	CallTimeout time.Duration // per-attempt deadline
}

// DefaultPolicy matches typical venue rate-limit windows.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Factor:      2,
		Jitter:      true,
		CallTimeout: 10 * time.Second,
	}
}

// Gate serializes exchange access behind a shared rate limiter and wraps
// every call in a retry policy. All engine instances share one Gate, so
// the limiter's token bucket is the global throughput budget; Wait gives
// FIFO fairness across instances.
type Gate struct {
	policy    Policy
	limiter   *rate.Limiter
	retryable func(error) bool
}

// New creates a Gate. callsPerSecond bounds total adapter throughput and
// burst is the bucket size. retryable classifies errors worth retrying;
// it is injected so the gate stays independent of any venue's taxonomy.
func New(policy Policy, callsPerSecond float64, burst int, retryable func(error) bool) *Gate {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.MinDelay <= 0 {
		policy.MinDelay = DefaultPolicy().MinDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy().MaxDelay
	}
	if policy.Factor <= 1 {
		policy.Factor = DefaultPolicy().Factor
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = DefaultPolicy().CallTimeout
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Gate{
		policy:    policy,
		limiter:   rate.NewLimiter(rate.Limit(callsPerSecond), burst),
		retryable: retryable,
	}
}

// Do runs fn through the limiter with retries. Each attempt waits for a
// limiter slot, runs under its own deadline, and retries with backoff
// when the classifier says the failure is transient. Non-retryable
// errors return immediately; exhausting attempts returns the last error.
func (g *Gate) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    g.policy.MinDelay,
		Max:    g.policy.MaxDelay,
		Factor: g.policy.Factor,
		Jitter: g.policy.Jitter,
	}

	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !g.retryable(err) {
			return err
		}
		if attempt == g.policy.MaxAttempts {
			break
		}

		delay := b.Duration()
		logger.Warnf("[Gate] %s attempt %d/%d failed: %v (retrying in %v)",
			name, attempt, g.policy.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, g.policy.MaxAttempts, lastErr)
}
