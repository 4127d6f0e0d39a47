package domain

import "errors"

var (
	// ErrNotFound indicates an operation on an unknown alarm or group id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change not permitted from the
	// current alarm state.
	ErrInvalidTransition = errors.New("invalid status transition")
)
