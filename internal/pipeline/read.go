package pipeline

import (
	"errors"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
)

// The read API never blocks on a run: it serves the last published result
// or domain.ErrNotReady.

// LatestStatistic returns the region summary for fp.
func (s *Service) LatestStatistic(fp domain.Fingerprint) (domain.RegionStatistic, error) {
	r, err := s.cache.Get(fp)
	if err != nil {
		return domain.RegionStatistic{}, err
	}
	return r.Statistic, nil
}

// TimeSeries returns a copy of the series for fp.
func (s *Service) TimeSeries(fp domain.Fingerprint) (domain.TimeSeries, error) {
	r, err := s.cache.Get(fp)
	if err != nil {
		return nil, err
	}
	return r.Series.Clone(), nil
}

// Forecast returns horizon months of forecast for fp. A horizon within the
// cached forecast is served as a prefix; a longer one is refitted from the
// cached series.
func (s *Service) Forecast(fp domain.Fingerprint, horizon int) (domain.Forecast, error) {
	if err := domain.ValidateHorizon(horizon); err != nil {
		return domain.Forecast{}, err
	}
	r, err := s.cache.Get(fp)
	if err != nil {
		return domain.Forecast{}, err
	}
	if r.Forecast == nil {
		return domain.Forecast{}, forecastError(r)
	}
	if horizon <= r.Forecast.Horizon() {
		return r.Forecast.Truncate(horizon), nil
	}
	return s.opts.Engine.Forecast(r.Series, horizon)
}

// Snapshot returns a deep copy of the full result for fp, for consumers that
// annotate or archive results.
func (s *Service) Snapshot(fp domain.Fingerprint) (*domain.PipelineResult, error) {
	r, err := s.cache.Get(fp)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Latest returns a copy of the most recently published result.
func (s *Service) Latest() (*domain.PipelineResult, error) {
	r, err := s.cache.Latest()
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Fingerprints lists cached results, most recent first.
func (s *Service) Fingerprints() []domain.Fingerprint {
	return s.cache.Fingerprints()
}

// RunStatus reports the latest run for fp. A fingerprint restored from the
// archive without a run in this process reports Ready.
func (s *Service) RunStatus(fp domain.Fingerprint) (domain.RunStatus, error) {
	s.mu.Lock()
	run, ok := s.runs[fp]
	s.mu.Unlock()
	if ok {
		return run.Status(), nil
	}
	if r, err := s.cache.Get(fp); err == nil {
		return domain.RunStatus{RunID: r.RunID, Fingerprint: fp, State: domain.StateReady}, nil
	}
	return domain.RunStatus{}, domain.ErrNotReady
}

// forecastError rebuilds the sentinel behind a stored forecast failure.
func forecastError(r *domain.PipelineResult) error {
	var sentinel error
	switch r.ForecastReason {
	case domain.ReasonCode(domain.ErrInsufficientHistory):
		sentinel = domain.ErrInsufficientHistory
	case domain.ReasonCode(domain.ErrModelFit):
		sentinel = domain.ErrModelFit
	default:
		return errors.New(r.ForecastError)
	}
	if r.ForecastError == "" {
		return sentinel
	}
	return &storedError{msg: r.ForecastError, sentinel: sentinel}
}

// storedError keeps the original message of an error restored from a result.
type storedError struct {
	msg      string
	sentinel error
}

func (e *storedError) Error() string { return e.msg }

func (e *storedError) Unwrap() error { return e.sentinel }
