// ABOUTME: Error values returned by the session store
// ABOUTME: Sentinels for lookups plus typed errors for schema, storage and JSON failures

package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested session does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidRole is returned when writing a message whose role is not user or assistant
var ErrInvalidRole = errors.New("invalid message role")

// ErrInvalidStatus is returned when completing a tool event with a non-terminal status
var ErrInvalidStatus = errors.New("invalid tool status")

// ErrToolEventNotRunning is returned when completing an event that is unknown
// or has already reached a terminal status.
var ErrToolEventNotRunning = errors.New("tool event not running")

// SchemaError reports an on-disk schema the running binary cannot handle.
// It is fatal: the store refuses to open.
type SchemaError struct {
	Version int
	Reason  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error at version %d: %s", e.Version, e.Reason)
}

// StorageUnavailableError reports that the database could not be opened.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("opening SQLite database at %q: %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

// SerializationError reports malformed JSON stored in or passed to the store.
type SerializationError struct {
	Field string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error in %s: %v", e.Field, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
