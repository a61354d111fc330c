package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-trend-service/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu       sync.Mutex
	requests []pipeline.Request
	failFor  map[string]error
	ran      chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, req pipeline.Request) (*domain.PipelineResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	if err := r.failFor[req.Region.Name]; err != nil {
		return nil, err
	}
	return &domain.PipelineResult{Fingerprint: req.Fingerprint()}, nil
}

func (r *recordingRunner) snapshot() []pipeline.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Request(nil), r.requests...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func regions(t *testing.T) []domain.RegionSpec {
	t.Helper()
	a, err := domain.NewRegion("Pune", 19, 18, 74, 73)
	require.NoError(t, err)
	b, err := domain.NewRegion("Nashik", 20.2, 19.8, 74, 73.6)
	require.NoError(t, err)
	return []domain.RegionSpec{a, b}
}

func TestRefresh_RunsEveryRegionOverLookback(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	runner := &recordingRunner{failFor: map[string]error{"Nashik": domain.ErrNoObservations}}
	metrics := observability.NewMetricsForTesting()
	s := scheduler.New(runner, regions(t), scheduler.Config{
		Interval:         time.Hour,
		LookbackMonths:   24,
		QualityThreshold: 15,
	}, discardLogger(), metrics)

	failed := s.Refresh(context.Background())
	assert.Equal(t, 1, failed)

	reqs := runner.snapshot()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		assert.Equal(t, "2022-06-30..2024-06-30", req.Dates.String())
		assert.InDelta(t, 15.0, req.QualityThreshold, 1e-9)
	}
	assert.Equal(t, "Pune", reqs[0].Region.Name)
	assert.Equal(t, "Nashik", reqs[1].Region.Name)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ScheduledRuns.WithLabelValues("succeeded")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ScheduledRuns.WithLabelValues("failed")), 1e-9)
}

func TestRefresh_StopsWhenCancelled(t *testing.T) {
	runner := &recordingRunner{}
	s := scheduler.New(runner, regions(t), scheduler.Config{Interval: time.Hour, LookbackMonths: 12},
		discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Refresh(ctx)
	assert.Empty(t, runner.snapshot())
}

func TestStart_FiresImmediately(t *testing.T) {
	runner := &recordingRunner{ran: make(chan struct{}, 1)}
	s := scheduler.New(runner, regions(t)[:1], scheduler.Config{Interval: time.Hour, LookbackMonths: 12},
		discardLogger(), observability.NewMetricsForTesting())

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	select {
	case <-runner.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled refresh did not run")
	}
}

func TestStart_NoRegions(t *testing.T) {
	s := scheduler.New(&recordingRunner{}, nil, scheduler.Config{Interval: time.Hour, LookbackMonths: 12},
		discardLogger(), observability.NewMetricsForTesting())
	require.NoError(t, s.Start())
	s.Stop()
}

func TestLoadWatchList(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "watch.json")
	require.NoError(t, os.WriteFile(good, []byte(`[
		{"name": "Pune", "north": 19, "south": 18, "east": 74, "west": 73},
		{"name": " Nashik ", "north": 20.2, "south": 19.8, "east": 74, "west": 73.6}
	]`), 0o600))
	got, err := scheduler.LoadWatchList(good)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Nashik", got[1].Name)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"name": "Flipped", "north": 18, "south": 19, "east": 74, "west": 73}]`), 0o600))
	_, err = scheduler.LoadWatchList(bad)
	require.ErrorIs(t, err, domain.ErrConfig)

	garbled := filepath.Join(dir, "garbled.json")
	require.NoError(t, os.WriteFile(garbled, []byte(`{`), 0o600))
	_, err = scheduler.LoadWatchList(garbled)
	require.ErrorIs(t, err, domain.ErrConfig)

	_, err = scheduler.LoadWatchList(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
