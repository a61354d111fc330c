package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

// RetryPolicy bounds how a source call is retried.
type RetryPolicy struct {
	Attempts   int
	Timeout    time.Duration // per attempt
	Backoff    time.Duration // first wait; doubles each retry
	MaxBackoff time.Duration
}

// RetryingSource decorates a source with per-call timeouts and exponential
// backoff on transient failures.
type RetryingSource struct {
	inner   ImageCollectionSource
	policy  RetryPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetryingSource wraps inner with the given policy.
func NewRetryingSource(inner ImageCollectionSource, policy RetryPolicy, logger *slog.Logger, metrics *observability.Metrics) *RetryingSource {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.MaxBackoff < policy.Backoff {
		policy.MaxBackoff = 10 * policy.Backoff
	}
	return &RetryingSource{inner: inner, policy: policy, logger: logger, metrics: metrics}
}

// Fetch calls the inner source until it succeeds, fails permanently, or runs
// out of attempts. ErrNoObservations is returned as is.
func (s *RetryingSource) Fetch(ctx context.Context, region domain.RegionSpec, dates domain.DateRangeSpec, qualityThreshold float64) ([]domain.RawObservation, error) {
	backoff := s.policy.Backoff
	var lastErr error
	for attempt := 1; attempt <= s.policy.Attempts; attempt++ {
		obs, err := s.fetchOnce(ctx, region, dates, qualityThreshold)
		if err == nil {
			return obs, nil
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		lastErr = err
		if !domain.IsRetryable(err) || attempt == s.policy.Attempts {
			break
		}

		s.logger.Warn("imagery fetch failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_attempts", s.policy.Attempts,
			"backoff", backoff,
			"region", region.Name,
		)
		s.metrics.SourceRetries.Inc()
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return nil, context.Cause(ctx)
		}
		backoff = sharedretry.NextBackoff(backoff, s.policy.MaxBackoff)
	}
	return nil, lastErr
}

func (s *RetryingSource) fetchOnce(ctx context.Context, region domain.RegionSpec, dates domain.DateRangeSpec, qualityThreshold float64) ([]domain.RawObservation, error) {
	if s.policy.Timeout <= 0 {
		return s.inner.Fetch(ctx, region, dates, qualityThreshold)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout)
	defer cancel()

	obs, err := s.inner.Fetch(callCtx, region, dates, qualityThreshold)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// The attempt timed out while the run is still live.
		var dsErr *domain.DataSourceError
		if !errors.As(err, &dsErr) {
			err = &domain.DataSourceError{Op: "fetch", Err: err}
		}
	}
	return obs, err
}
