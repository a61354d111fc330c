// Package pipeline drives NDVI runs: fetch scenes, compute and reduce the
// index per scene, assemble the time series, forecast, and publish the
// result to the cache and any configured sinks.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/cache"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Start after Shutdown.
var ErrStopped = errors.New("pipeline service is shut down")

// DefaultSinkTimeout bounds one Publish call on a result sink.
const DefaultSinkTimeout = 10 * time.Second

// Options tune a Service. Zero values fall back to defaults.
type Options struct {
	Workers     int
	Horizon     int
	SinkTimeout time.Duration
	Reducer     domain.Reducer
	Engine      domain.ForecastEngine
}

// Request asks for one run.
type Request struct {
	Region           domain.RegionSpec
	Dates            domain.DateRangeSpec
	QualityThreshold float64
	Horizon          int // months; zero uses the service default
}

// Validate rejects malformed requests before any I/O.
func (r Request) Validate() error {
	if err := r.Region.Validate(); err != nil {
		return err
	}
	if err := r.Dates.Validate(); err != nil {
		return err
	}
	if math.IsNaN(r.QualityThreshold) || r.QualityThreshold < 0 || r.QualityThreshold > 100 {
		return fmt.Errorf("%w: quality threshold must be within [0, 100], got %g", domain.ErrConfig, r.QualityThreshold)
	}
	if r.Horizon != 0 {
		return domain.ValidateHorizon(r.Horizon)
	}
	return nil
}

// Fingerprint identifies the result this request produces.
func (r Request) Fingerprint() domain.Fingerprint {
	return domain.NewFingerprint(r.Region, r.Dates, r.QualityThreshold)
}

// Handle identifies a started run.
type Handle struct {
	RunID       string             `json:"run_id"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
}

type inflight struct {
	run    *domain.Run
	cancel context.CancelCauseFunc
}

// Service owns the run lifecycle and the read API over completed results.
type Service struct {
	source  ImageCollectionSource
	cache   *cache.ResultCache
	sinks   []ResultSink
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	newID   func() string

	// base parents every background run; Shutdown cancels it.
	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup
	ready    atomic.Bool

	mu       sync.Mutex
	inflight map[domain.Fingerprint]*inflight
	runs     map[domain.Fingerprint]*domain.Run // latest run per fingerprint
}

// New creates a Service. Sinks may be empty.
func New(source ImageCollectionSource, results *cache.ResultCache, sinks []ResultSink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = min(runtime.NumCPU(), 8)
	}
	if opts.Horizon <= 0 {
		opts.Horizon = domain.DefaultHorizonMonths
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	if opts.Reducer == (domain.Reducer{}) {
		opts.Reducer = domain.NewReducer(0, 0, domain.DefaultAlertThreshold)
	}
	if opts.Engine == (domain.ForecastEngine{}) {
		opts.Engine = domain.ForecastEngine{MinHistory: domain.DefaultMinHistory, Confidence: domain.DefaultConfidence}
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		source:   source,
		cache:    results,
		sinks:    sinks,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		newID:    uuid.NewString,
		base:     base,
		stopBase: stop,
		inflight: make(map[domain.Fingerprint]*inflight),
		runs:     make(map[domain.Fingerprint]*domain.Run),
	}
}

// CheckReadiness returns nil once the service has been warmed and not shut down.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("pipeline service is not accepting runs")
	}
	return nil
}

// Warm loads previously archived results into the cache and marks the
// service ready. Results are applied oldest first so the newest survive
// eviction.
func (s *Service) Warm(results []*domain.PipelineResult) {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b *domain.PipelineResult) int {
		return a.CompletedAt.Compare(b.CompletedAt)
	})
	for _, r := range sorted {
		s.cache.Put(r)
	}
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	if len(sorted) > 0 {
		s.logger.Info("result cache warmed", "results", len(sorted), "cached", s.cache.Len())
	}
	s.ready.Store(true)
}

// Start validates req and runs it in the background. The returned handle is
// valid immediately for status queries.
func (s *Service) Start(req Request) (Handle, error) {
	req, err := s.prepare(req)
	if err != nil {
		return Handle{}, err
	}
	if s.base.Err() != nil {
		return Handle{}, ErrStopped
	}
	run, ctx := s.register(s.base, req)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(ctx, run, req); err != nil {
			s.logger.Debug("background run ended without a result", "run_id", run.ID(), "error", err)
		}
	}()
	return Handle{RunID: run.ID(), Fingerprint: run.Fingerprint()}, nil
}

// Run executes req synchronously and returns the published result.
func (s *Service) Run(ctx context.Context, req Request) (*domain.PipelineResult, error) {
	req, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	run, runCtx := s.register(ctx, req)
	return s.execute(runCtx, run, req)
}

// Shutdown cancels in-flight runs and waits for them to stop.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.stopBase()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) prepare(req Request) (Request, error) {
	if err := req.Validate(); err != nil {
		return req, err
	}
	if req.Horizon == 0 {
		req.Horizon = s.opts.Horizon
	}
	return req, nil
}

// register records a new run and cancels whatever it supersedes.
func (s *Service) register(parent context.Context, req Request) (*domain.Run, context.Context) {
	fp := req.Fingerprint()
	run := domain.NewRun(s.newID(), fp)
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.inflight[fp]; ok {
		prev.cancel(domain.ErrSuperseded)
	}
	if s.cache.Capacity() == 1 {
		// A single-slot cache would evict the other results on arrival.
		for other, p := range s.inflight {
			if other != fp {
				p.cancel(domain.ErrSuperseded)
			}
		}
	}
	s.inflight[fp] = &inflight{run: run, cancel: cancel}
	s.runs[fp] = run
	s.pruneRunsLocked()

	s.metrics.RunsStarted.Inc()
	s.logger.Info("run started",
		"run_id", run.ID(),
		"fingerprint", fp,
		"region", req.Region.Name,
		"dates", req.Dates.String(),
	)
	return run, ctx
}

// pruneRunsLocked bounds the status table to cached or in-flight fingerprints
// plus a small tail of failed runs.
func (s *Service) pruneRunsLocked() {
	limit := 4*s.cache.Capacity() + 16
	if len(s.runs) <= limit {
		return
	}
	for fp, run := range s.runs {
		if _, live := s.inflight[fp]; live {
			continue
		}
		if _, err := s.cache.Get(fp); err == nil {
			continue
		}
		if run.State().Terminal() {
			delete(s.runs, fp)
		}
		if len(s.runs) <= limit {
			return
		}
	}
}

func (s *Service) execute(ctx context.Context, run *domain.Run, req Request) (*domain.PipelineResult, error) {
	start := time.Now()
	s.metrics.RunsInFlight.Inc()
	defer s.metrics.RunsInFlight.Dec()
	defer s.release(run)

	result, err := s.runStages(ctx, run, req)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	s.metrics.RunsCompleted.WithLabelValues(string(domain.StateReady), "").Inc()
	s.logger.Info("run ready",
		"run_id", run.ID(),
		"fingerprint", run.Fingerprint(),
		"points", len(result.Series),
		"mean", result.Statistic.Mean,
		"forecast", result.Forecast != nil,
		"duration", time.Since(start),
	)
	s.publishToSinks(ctx, result)
	return result, nil
}

func (s *Service) runStages(ctx context.Context, run *domain.Run, req Request) (*domain.PipelineResult, error) {
	if err := s.advance(run, domain.StateFetching); err != nil {
		return nil, err
	}
	obs, err := s.source.Fetch(ctx, req.Region, req.Dates, req.QualityThreshold)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, domain.ErrNoObservations
	}

	if err := s.advance(run, domain.StateComputing); err != nil {
		return nil, err
	}
	measured, err := s.measure(ctx, obs, req.Region)
	if err != nil {
		return nil, err
	}

	if err := s.advance(run, domain.StateAggregating); err != nil {
		return nil, err
	}
	series, err := domain.BuildSeries(measured)
	if err != nil {
		return nil, err
	}
	stat, err := domain.Summarize(series)
	if err != nil {
		return nil, err
	}
	s.metrics.AbsentPoints.Add(float64(len(series) - series.ValidCount()))

	if err := s.advance(run, domain.StateForecasting); err != nil {
		return nil, err
	}
	result := &domain.PipelineResult{
		RunID:            run.ID(),
		Fingerprint:      run.Fingerprint(),
		Region:           req.Region,
		DateRange:        req.Dates,
		QualityThreshold: req.QualityThreshold,
		Statistic:        stat,
		Series:           series,
		Observations:     len(obs),
	}
	if err := s.forecast(ctx, result, req.Horizon); err != nil {
		return nil, err
	}
	result.CompletedAt = domain.Now()

	if err := s.publish(ctx, run, result); err != nil {
		return nil, err
	}
	return result, nil
}

// measure reduces every scene in a stable (timestamp, id) order. Each
// worker writes only its own slot.
func (s *Service) measure(ctx context.Context, obs []domain.RawObservation, region domain.RegionSpec) ([]domain.ObservationResult, error) {
	sorted := slices.Clone(obs)
	slices.SortStableFunc(sorted, func(a, b domain.RawObservation) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	out := make([]domain.ObservationResult, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range sorted {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = domain.MeasureObservation(sorted[i], region, s.opts.Reducer)
			s.metrics.ObservationsProcessed.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	return out, nil
}

// forecast fits the series on its own goroutine. Insufficient history and
// fit failures are recorded on the result, which is still published.
func (s *Service) forecast(ctx context.Context, result *domain.PipelineResult, horizon int) error {
	type outcome struct {
		f   domain.Forecast
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		f, err := s.opts.Engine.Forecast(result.Series, horizon)
		done <- outcome{f: f, err: err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case out = <-done:
	}

	switch {
	case out.err == nil:
		result.Forecast = &out.f
		s.metrics.ForecastOutcomes.WithLabelValues("fitted").Inc()
	case errors.Is(out.err, domain.ErrInsufficientHistory), errors.Is(out.err, domain.ErrModelFit):
		result.ForecastError = out.err.Error()
		result.ForecastReason = domain.ReasonCode(out.err)
		s.metrics.ForecastOutcomes.WithLabelValues(result.ForecastReason).Inc()
		s.logger.Warn("forecast unavailable", "fingerprint", result.Fingerprint, "reason", result.ForecastReason, "error", out.err)
	default:
		return out.err
	}
	return nil
}

// publish moves the run to Ready and writes the cache in one critical
// section, so a superseded run can never overwrite its successor.
func (s *Service) publish(ctx context.Context, run *domain.Run, result *domain.PipelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.inflight[run.Fingerprint()]
	if !ok || cur.run != run {
		return domain.ErrSuperseded
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err := s.advance(run, domain.StateReady); err != nil {
		return err
	}
	for _, fp := range s.cache.Put(result) {
		s.logger.Debug("result evicted", "fingerprint", fp)
	}
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	return nil
}

func (s *Service) publishToSinks(ctx context.Context, result *domain.PipelineResult) {
	if len(s.sinks) == 0 {
		return
	}
	// The result is already published; a later supersede must not abort delivery.
	ctx = context.WithoutCancel(ctx)
	for _, sink := range s.sinks {
		if err := s.publishOne(ctx, sink, result); err != nil {
			s.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Error("result sink publish failed",
				"sink", sink.Name(),
				"fingerprint", result.Fingerprint,
				"run_id", result.RunID,
				"error", err,
			)
		}
	}
}

func (s *Service) publishOne(ctx context.Context, sink ResultSink, result *domain.PipelineResult) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SinkTimeout)
	defer cancel()
	return sink.Publish(ctx, result)
}

func (s *Service) advance(run *domain.Run, to domain.RunState) error {
	if err := run.Advance(to); err != nil {
		return err
	}
	s.metrics.StageTransitions.WithLabelValues(string(to)).Inc()
	return nil
}

// fail moves the run to Failed and returns the wrapped RunError. A
// cancelled context reports its cause (superseded or cancelled).
func (s *Service) fail(ctx context.Context, run *domain.Run, err error) error {
	if ctx.Err() != nil && !errors.Is(err, domain.ErrSuperseded) {
		err = context.Cause(ctx)
	}
	runErr, ferr := run.Fail(err)
	if ferr != nil {
		return ferr
	}
	reason := domain.ReasonCode(err)
	s.metrics.StageTransitions.WithLabelValues(string(domain.StateFailed)).Inc()
	s.metrics.RunsCompleted.WithLabelValues(string(domain.StateFailed), reason).Inc()

	log := s.logger.Error
	if reason == "superseded" || reason == "cancelled" {
		log = s.logger.Info
	}
	log("run failed",
		"run_id", run.ID(),
		"fingerprint", run.Fingerprint(),
		"stage", runErr.Stage,
		"reason", reason,
		"error", err,
	)
	return runErr
}

// release drops the in-flight entry if run still owns it.
func (s *Service) release(run *domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.inflight[run.Fingerprint()]; ok && cur.run == run {
		cur.cancel(nil)
		delete(s.inflight, run.Fingerprint())
	}
}
