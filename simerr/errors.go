// Package simerr holds the error taxonomy shared by the solver components.
package simerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks unsupported architecture/preconditioner combinations
	// and mismatched dimensions. Always raised before any solve is attempted.
	ErrConfiguration = errors.New("configuration error")
	// ErrNonconvergence marks an iteration cap reached without meeting tolerance.
	ErrNonconvergence = errors.New("solver did not converge")
	// ErrDivergence marks a non-finite value in a solution vector.
	ErrDivergence = errors.New("solver diverged")
	// ErrBlowUp marks a velocity magnitude above the configured threshold.
	ErrBlowUp = errors.New("velocity blow-up")
	// ErrTerminated is returned by any operation attempted after a fatal condition.
	ErrTerminated = errors.New("run terminated after fatal condition")
)

// Configuration returns an error wrapping ErrConfiguration.
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// FatalError describes the condition that aborted a run.
type FatalError struct {
	Kind       error // one of ErrDivergence, ErrBlowUp, ErrNonconvergence
	Step       int
	Time       float64
	Checkpoint string // emergency checkpoint path, empty if none was written
	Err        error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("fatal at step %d (t=%.6g): %v", e.Step, e.Time, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Checkpoint != "" {
		msg += fmt.Sprintf(" [last good state saved to %s]", e.Checkpoint)
	}
	return msg
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *FatalError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFatal reports whether err aborts a run: any FatalError (escalated
// nonconvergence included), a divergence or blow-up, or a call made after
// termination.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe) || errors.Is(err, ErrDivergence) ||
		errors.Is(err, ErrBlowUp) || errors.Is(err, ErrTerminated)
}
