package worker

import (
	"context"
	"errors"
)

// Task is a unit of periodic maintenance.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// Run performs one pass. Return a PermanentError to stop scheduling
	// the task.
	Run(ctx context.Context) error
}

// PermanentError marks a task failure that will not improve on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
