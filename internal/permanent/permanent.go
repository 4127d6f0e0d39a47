package permanent

import "errors"

// Error marks processing failures that must not be retried.
// Params: wrapped root cause.
// Returns: typed permanent failure marker.
type Error struct {
	Err error
}

// Error returns the wrapped message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Mark wraps an error with the permanent marker.
// Params: source error.
// Returns: marked error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether the error carries the permanent marker.
// Params: candidate error.
// Returns: true when retrying cannot help.
func Is(err error) bool {
	var marked Error
	return errors.As(err, &marked)
}
