package domain

import (
	"fmt"
	"sync"
)

// RunState is a stage of one pipeline run.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateFetching    RunState = "fetching"
	StateComputing   RunState = "computing"
	StateAggregating RunState = "aggregating"
	StateForecasting RunState = "forecasting"
	StateReady       RunState = "ready"
	StateFailed      RunState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunState) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// next lists the single forward transition out of each working state.
var next = map[RunState]RunState{
	StateIdle:        StateFetching,
	StateFetching:    StateComputing,
	StateComputing:   StateAggregating,
	StateAggregating: StateForecasting,
	StateForecasting: StateReady,
}

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	RunID       string      `json:"run_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	State       RunState    `json:"state"`
	FailedStage RunState    `json:"failed_stage,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Run tracks the state machine of one pipeline execution:
// Idle -> Fetching -> Computing -> Aggregating -> Forecasting -> Ready,
// with Failed reachable from any non-terminal state.
type Run struct {
	id          string
	fingerprint Fingerprint

	mu          sync.Mutex
	state       RunState
	failedStage RunState
	reason      error
}

// NewRun starts a run in the Idle state.
func NewRun(id string, fp Fingerprint) *Run {
	return &Run{id: id, fingerprint: fp, state: StateIdle}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Fingerprint returns the fingerprint the run serves.
func (r *Run) Fingerprint() Fingerprint { return r.fingerprint }

// State returns the current state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Advance moves to the next stage. Skipping stages or leaving a terminal
// state is an error.
func (r *Run) Advance(to RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if want, ok := next[r.state]; !ok || want != to {
		return fmt.Errorf("illegal run transition %s -> %s", r.state, to)
	}
	r.state = to
	return nil
}

// Fail moves the run to Failed and returns a RunError that records the
// stage it failed in. Failing a terminal run is an error.
func (r *Run) Fail(reason error) (*RunError, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return nil, fmt.Errorf("illegal run transition %s -> %s", r.state, StateFailed)
	}
	r.failedStage = r.state
	r.state = StateFailed
	r.reason = reason
	return &RunError{Stage: r.failedStage, Fingerprint: r.fingerprint, RunID: r.id, Err: reason}, nil
}

// Status returns a snapshot of the run.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RunStatus{RunID: r.id, Fingerprint: r.fingerprint, State: r.state, FailedStage: r.failedStage}
	if r.reason != nil {
		st.Reason = ReasonCode(r.reason)
		st.Error = r.reason.Error()
	}
	return st
}
