package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/TobiSchelling/interviewstats/internal/analytics"
)

// retryable reports whether a store error is worth another attempt. Domain
// outcomes are final; anything else is treated as the store being unavailable.
func retryable(err error) bool {
	switch {
	case errors.Is(err, analytics.ErrInvalidInput),
		errors.Is(err, analytics.ErrNotFound),
		errors.Is(err, analytics.ErrInconsistent),
		errors.Is(err, analytics.ErrStale),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// retry runs fn under a per-attempt timeout, retrying store failures with
// exponential backoff. When retries run out the error wraps
// ErrStoreUnavailable.
func (s *Scheduler) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := s.attemptOnce(ctx, fn)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.metrics.StoreRetry()
		s.log.WithError(err).WithField("op", op).WithField("retry_in", wait).Debug("Store call failed, retrying")
	})
	return s.classify(ctx, op, err)
}

// once runs fn a single time under the per-attempt timeout. Writes go through
// here since replaying a write that may have committed is not safe.
func (s *Scheduler) once(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.classify(ctx, op, s.attemptOnce(ctx, fn))
}

func (s *Scheduler) attemptOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return fn(actx)
}

func (s *Scheduler) classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case retryable(err):
		return fmt.Errorf("%s: %w: %w", op, analytics.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
