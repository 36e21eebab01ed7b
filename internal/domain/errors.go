package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrActivityNotFound is returned when no activity has the requested name.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrAlreadyEnrolled is returned when the participant is already on the roster.
	ErrAlreadyEnrolled = errors.New("student is already signed up")
	// ErrActivityFull is returned when the roster is at capacity.
	ErrActivityFull = errors.New("activity is full")
	// ErrNotEnrolled is returned when removing a participant who is not on the roster.
	ErrNotEnrolled = errors.New("participant not found in this activity")
)

// PersistenceError reports a failed write to the persistence collaborator.
// The roster mutation it belongs to was not applied.
type PersistenceError struct {
	Op       string
	Activity string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for %q: %v", e.Op, e.Activity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
