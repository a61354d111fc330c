package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_HappyPath(t *testing.T) {
	r := NewRun("run-1", "fp")
	assert.Equal(t, StateIdle, r.State())

	for _, s := range []RunState{StateFetching, StateComputing, StateAggregating, StateForecasting, StateReady} {
		require.NoError(t, r.Advance(s))
		assert.Equal(t, s, r.State())
	}
	assert.True(t, r.State().Terminal())

	st := r.Status()
	assert.Equal(t, RunStatus{RunID: "run-1", Fingerprint: "fp", State: StateReady}, st)
}

func TestRun_IllegalTransitions(t *testing.T) {
	r := NewRun("run-1", "fp")
	require.Error(t, r.Advance(StateComputing), "skipping a stage")
	require.Error(t, r.Advance(StateIdle), "moving backwards")
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Advance(StateFetching))
	_, err := r.Fail(ErrNoObservations)
	require.NoError(t, err)

	require.Error(t, r.Advance(StateComputing), "leaving Failed")
	_, err = r.Fail(ErrNoObservations)
	require.Error(t, err, "failing twice")
}

func TestRun_FailRecordsStageAndReason(t *testing.T) {
	r := NewRun("run-7", "abc")
	require.NoError(t, r.Advance(StateFetching))

	cause := &DataSourceError{Op: "fetch", Permanent: true, Err: errors.New("401")}
	runErr, err := r.Fail(cause)
	require.NoError(t, err)

	assert.Equal(t, StateFetching, runErr.Stage)
	assert.Equal(t, Fingerprint("abc"), runErr.Fingerprint)
	require.ErrorIs(t, runErr, ErrDataSource)
	var dsErr *DataSourceError
	require.ErrorAs(t, runErr, &dsErr)
	assert.True(t, dsErr.Permanent)

	st := r.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, StateFetching, st.FailedStage)
	assert.Equal(t, "data_source", st.Reason)
	assert.Contains(t, st.Error, "401")
}

func TestReasonCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: north", ErrConfig), "config"},
		{&DataSourceError{Op: "fetch", Err: errors.New("503")}, "data_source"},
		{&DataSourceError{Op: "fetch", Err: context.DeadlineExceeded}, "data_source"},
		{fmt.Errorf("attempt 3: %w", &DataSourceError{Op: "fetch", Err: context.Canceled}), "data_source"},
		{ErrNoObservations, "no_observations"},
		{ErrInsufficientSamples, "insufficient_samples"},
		{ErrInsufficientHistory, "insufficient_history"},
		{ErrModelFit, "model_fit"},
		{ErrNotReady, "not_ready"},
		{fmt.Errorf("cancel: %w", ErrSuperseded), "superseded"},
		{context.Canceled, "cancelled"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonCode(tt.err), "%v", tt.err)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&DataSourceError{Op: "fetch", Err: errors.New("timeout")}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &DataSourceError{Op: "fetch", Err: errors.New("503")})))
	assert.False(t, IsRetryable(&DataSourceError{Op: "fetch", Permanent: true, Err: errors.New("400")}))
	assert.False(t, IsRetryable(ErrNoObservations))
}
