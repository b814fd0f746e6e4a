package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation targets a document that does not
// exist.
var ErrNotFound = errors.New("document not found")

// WriteError wraps a backend rejection of a create, update, increment,
// append or delete.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError wraps a failure to read a document or attach a subscription,
// including malformed stored data.
type ReadError struct {
	Op  string
	ID  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
