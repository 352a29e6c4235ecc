package runner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDisabled       = errors.New("runner is disabled")
	ErrAlreadyRunning = errors.New("runner is not stopped")
	ErrStopTimeout    = errors.New("runner did not stop within timeout")
	ErrWorkerAlive    = errors.New("runner worker is still alive")
	ErrStartAborted   = errors.New("runner start aborted by stop")
	ErrManagerRunning = errors.New("runner manager already running")

	ErrUnknownType    = errors.New("unknown runner type")
	ErrDuplicateType  = errors.New("runner type already registered")
	ErrDuplicateID    = errors.New("runner id already registered")
	ErrRunnerDisabled = errors.New("runner is disabled in configuration")
	ErrInvalidConfig  = errors.New("invalid runner configuration")
	ErrNotFound       = errors.New("runner not found")
)

// InitError is returned by Start when the worker's Initialize hook fails.
type InitError struct {
	Runner string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("runner %s failed to initialize: %v", e.Runner, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// BatchError reports the runners that failed a bulk operation.
type BatchError struct {
	Op       string
	Total    int
	Failures map[string]error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d/%d runners failed: %s",
		e.Op, len(e.Failures), e.Total, strings.Join(e.Failed(), ", "))
}

// Failed returns the ids of the failed runners in sorted order.
func (e *BatchError) Failed() []string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, id := range e.Failed() {
		errs = append(errs, e.Failures[id])
	}
	return errs
}
