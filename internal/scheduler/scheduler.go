// Package scheduler periodically refreshes a fixed list of watched regions
// over a rolling lookback window.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	"github.com/go-co-op/gocron"
)

// Runner executes one pipeline run to completion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.PipelineResult, error)
}

// Scheduler runs every watched region once per interval. A tick that is
// still running when the next one fires is not overlapped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	regions   []domain.RegionSpec
	interval  time.Duration
	lookback  int
	threshold float64
	logger    *slog.Logger
	metrics   *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds scheduling parameters.
type Config struct {
	Interval         time.Duration
	LookbackMonths   int
	QualityThreshold float64
}

// New creates a Scheduler for the given regions.
func New(runner Runner, regions []domain.RegionSpec, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		regions:   regions,
		interval:  cfg.Interval,
		lookback:  cfg.LookbackMonths,
		threshold: cfg.QualityThreshold,
		logger:    logger,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the refresh job. The first tick fires immediately.
func (s *Scheduler) Start() error {
	if len(s.regions) == 0 {
		s.logger.Info("scheduler: no watched regions; nothing to schedule")
		return nil
	}
	if s.interval <= 0 {
		return fmt.Errorf("%w: schedule interval must be positive, got %s", domain.ErrConfig, s.interval)
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		s.Refresh(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "regions", len(s.regions), "interval", s.interval)
	return nil
}

// Refresh runs every watched region once, sequentially, and returns the
// number of failed runs.
func (s *Scheduler) Refresh(ctx context.Context) int {
	dates, err := domain.LastMonths(s.lookback)
	if err != nil {
		s.logger.Error("scheduler: invalid lookback", "error", err)
		return len(s.regions)
	}

	failed := 0
	for _, region := range s.regions {
		if ctx.Err() != nil {
			return failed + 1
		}
		req := pipeline.Request{Region: region, Dates: dates, QualityThreshold: s.threshold}
		if _, err := s.runner.Run(ctx, req); err != nil {
			failed++
			s.metrics.ScheduledRuns.WithLabelValues("failed").Inc()
			s.logger.Warn("scheduled run failed",
				"region", region.Name,
				"dates", dates.String(),
				"reason", domain.ReasonCode(err),
				"error", err,
			)
			continue
		}
		s.metrics.ScheduledRuns.WithLabelValues("succeeded").Inc()
		s.logger.Info("scheduled run completed", "region", region.Name, "dates", dates.String())
	}
	return failed
}

// Stop cancels any running tick and stops future ones.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

type watchEntry struct {
	Name  string  `json:"name"`
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// LoadWatchList reads a JSON array of named bounding boxes.
func LoadWatchList(path string) ([]domain.RegionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}
	var entries []watchEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse watch list %s: %v", domain.ErrConfig, path, err)
	}

	regions := make([]domain.RegionSpec, 0, len(entries))
	var errs []error
	for i, e := range entries {
		r, err := domain.NewRegion(e.Name, e.North, e.South, e.East, e.West)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch entry %d (%q): %w", i, e.Name, err))
			continue
		}
		regions = append(regions, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return regions, nil
}
