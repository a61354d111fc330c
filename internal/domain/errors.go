package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an invalid request (bounds, dates, horizon). It is
	// raised before any I/O.
	ErrConfig = errors.New("invalid configuration")

	// ErrDataSource is the sentinel behind every DataSourceError.
	ErrDataSource = errors.New("imagery source failure")

	// ErrNoObservations means the source matched zero scenes. Terminal for a run.
	ErrNoObservations = errors.New("no observations for region and date range")

	// ErrInvalidBandData means the band arrays of one scene do not line up.
	ErrInvalidBandData = errors.New("invalid band data")

	// ErrInsufficientSamples means a raster had no valid pixels inside the region.
	ErrInsufficientSamples = errors.New("no valid samples in region")

	// ErrInsufficientHistory means the series is too short to fit a forecast.
	ErrInsufficientHistory = errors.New("insufficient history for forecast")

	// ErrModelFit means the forecast model could not be fitted.
	ErrModelFit = errors.New("forecast model fit failed")

	// ErrNotReady is returned by readers when no completed result exists.
	ErrNotReady = errors.New("result not ready")

	// ErrSuperseded means a newer run for the same fingerprint replaced this one.
	ErrSuperseded = errors.New("run superseded")
)

// DataSourceError wraps a failure talking to the imagery source. Permanent
// errors (bad credentials, rejected request) are not worth retrying.
type DataSourceError struct {
	Op        string
	Permanent bool
	Err       error
}

func (e *DataSourceError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s: %s %s error: %v", ErrDataSource, e.Op, kind, e.Err)
}

func (e *DataSourceError) Unwrap() []error { return []error{ErrDataSource, e.Err} }

// IsRetryable reports whether err is a transient source failure.
func IsRetryable(err error) bool {
	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		return false
	}
	return !dsErr.Permanent
}

// RunError carries the stage and fingerprint of a failed pipeline run so
// callers have enough context to retry.
type RunError struct {
	Stage       RunState
	Fingerprint Fingerprint
	RunID       string
	Err         error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s (%s) failed during %s: %v", e.RunID, e.Fingerprint, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ReasonCode maps an error onto a stable, machine-readable reason.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	// A per-call timeout is wrapped as a source failure; only bare context
	// errors mean the run itself was cancelled.
	case errors.Is(err, ErrDataSource):
		return "data_source"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrNoObservations):
		return "no_observations"
	case errors.Is(err, ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrModelFit):
		return "model_fit"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "internal"
	}
}
