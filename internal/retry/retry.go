// ABOUTME: Bounded exponential backoff wrapper for read calls against the backend.
// ABOUTME: Retries transient failures only; rate limits surface immediately with a wait hint.

package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/perchworks/perch-gateway/internal/taxonomy"
	"github.com/perchworks/perch-gateway/internal/xapi"
)

// Policy controls the backoff loop. Zero values fall back to defaults.
type Policy struct {
	MaxAttempts int           // total attempts including the first (default 3)
	BaseDelay   time.Duration // first backoff delay (default 500ms)
	MaxDelay    time.Duration // backoff ceiling (default 8s)
	Jitter      float64       // jitter fraction applied to each delay (default 0.25)
}

// DefaultPolicy matches the deployment defaults: two retries on top of the
// initial attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.25,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.25
	}
	return p
}

// Result reports how an attempt loop ended. RetryCount is attempts beyond
// the first, reproducible in tests because the loop is an explicit counter.
type Result struct {
	RetryCount   int
	Code         taxonomy.Code
	RetryAfterMS int64
	Err          error
}

// Runner executes backend calls under a Policy.
type Runner struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner. A nil logger falls back to slog.Default.
func NewRunner(policy Policy, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default().With("component", "retry")
	}
	return &Runner{
		policy: policy.withDefaults(),
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Do runs fn until it succeeds, exhausts the attempt budget, or hits a
// non-transient error. Only transient codes are retried; a rate limit
// returns immediately so the caller can schedule its own retry from the
// hint. When attempts run out the last error observed wins, even if
// earlier attempts failed differently.
func (r *Runner) Do(ctx context.Context, op string, fn func(ctx context.Context) error) Result {
	var res Result
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			r.logger.Debug("retrying backend call",
				"op", op,
				"attempt", attempt+1,
				"delay", delay,
			)
			if err := r.sleep(ctx, delay); err != nil {
				res.Err = err
				res.Code = taxonomy.CodeInternal
				return res
			}
			res.RetryCount = attempt
		}

		err := fn(ctx)
		if err == nil {
			res.Err = nil
			res.Code = ""
			res.RetryAfterMS = 0
			return res
		}

		code, retryAfter := xapi.Classify(err)
		res.Err = err
		res.Code = code
		res.RetryAfterMS = retryAfter

		if !taxonomy.Transient(code) {
			// Rate limits and other non-transient failures are the
			// caller's decision to retry, not ours.
			return res
		}
	}
	return res
}

// backoff computes min(base*2^n, max) with ± jitter.
func (r *Runner) backoff(n int) time.Duration {
	delay := r.policy.BaseDelay << uint(n)
	if delay > r.policy.MaxDelay || delay <= 0 {
		delay = r.policy.MaxDelay
	}
	spread := float64(delay) * r.policy.Jitter
	jittered := float64(delay) + (rand.Float64()*2-1)*spread
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
