package core

import (
	"errors"
	"fmt"
)

// ValidationError is a local, pre-network input rejection. It never
// results in a store call; the triggering operation is aborted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError wraps a store-side rejection (constraint violation, auth
// failure, connectivity loss) with the operation that triggered it. The
// store's detail text is preserved for display.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err unless it is already local validation.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoSession marks an unauthenticated caller on an admin surface.
	// It resolves to a redirect to the authentication entry point.
	ErrNoSession = errors.New("no active session")

	// ErrNotAuthorized marks an authenticated caller without the admin
	// role. It resolves to a redirect to the public view, never to an
	// error notice on the admin surface.
	ErrNotAuthorized = errors.New("admin role required")

	// ErrNoSelection is returned by console operations that require a
	// currently selected leaderboard.
	ErrNoSelection = errors.New("no leaderboard selected")
)
