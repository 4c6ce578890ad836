package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedStep marks a step missing a structural field
	ErrMalformedStep = errors.New("malformed step")

	// ErrFlowStopped is returned by an execution interrupted through StopFlow
	ErrFlowStopped = errors.New("flow stopped")

	// ErrFlowNotFound is returned when no active flow has the session id
	ErrFlowNotFound = errors.New("flow not found")

	// ErrDuplicateSession is returned when a session id is already active
	ErrDuplicateSession = errors.New("session already active")

	// ErrResponseTimeout marks a synthesized response that missed its timeout
	ErrResponseTimeout = errors.New("response timeout")
)

// StepProcessingError is a failure inside layer dispatch or response
// synthesis. It is recorded on the step result and never aborts the flow.
type StepProcessingError struct {
	StepID string
	Layer  Layer
	Err    error
}

func (e *StepProcessingError) Error() string {
	return fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.Layer, e.Err)
}

func (e *StepProcessingError) Unwrap() error {
	return e.Err
}

// DependencyTimeoutError is raised when a step's dependencies are not
// attempted within the configured wait. It aborts the flow.
type DependencyTimeoutError struct {
	StepID  string
	Missing []string
	Waited  time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("step %s: dependencies %v not attempted after %s", e.StepID, e.Missing, e.Waited)
}

// FlowAbortError wraps any failure escaping per-step processing
type FlowAbortError struct {
	SessionID string
	StepID    string
	Err       error
}

func (e *FlowAbortError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("flow %s aborted: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("flow %s aborted at step %s: %v", e.SessionID, e.StepID, e.Err)
}

func (e *FlowAbortError) Unwrap() error {
	return e.Err
}
