package errors

import (
	"fmt"
)

var (
	// ErrFileChanged occurs when a file's contents no longer match the
	// metadata it was planned with.
	ErrFileChanged = New("file contents changed during sync")

	// ErrResourceBusy occurs when a file is already open for writing by
	// another session.
	ErrResourceBusy = New("file is open for writing by another session")

	// ErrSessionInvalid occurs when the server doesn't recognize the
	// session token, either because it never logged in or because the
	// session was evicted. The caller must log in again.
	ErrSessionInvalid = New("session is not active")

	// ErrInvalidArgument occurs when a request is malformed, such as an
	// empty user name or a path that escapes the user's container.
	ErrInvalidArgument = New("invalid argument")

	// ErrPoolDraining occurs when a task is submitted to a worker pool
	// that's waiting for its outstanding work to finish.
	ErrPoolDraining = New("worker pool is draining")
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// RemoteFailure represents a failed call to the remote server, such as a
// dropped connection or a timeout. The call may succeed if it's retried.
type RemoteFailure struct {
	Err error
}

func (err RemoteFailure) Error() string {
	return fmt.Sprintf("remote failure: %s", err.Err)
}

func (err RemoteFailure) Unwrap() error {
	return err.Err
}

// IsTransient returns whether `err` was caused by a transport-level failure
// that's worth retrying.
func IsTransient(err error) bool {
	var remoteErr RemoteFailure
	return As(err, &remoteErr)
}
