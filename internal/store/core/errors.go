package core

import (
	"errors"
	"fmt"
)

// Domain errors. Anything else coming out of an adapter is a storage fault
// and maps to server_error upstream.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrCodeConsumed marks the known consume race: the code existed but was
	// already redeemed. Callers remap it to invalid_grant and trigger replay
	// mitigation.
	ErrCodeConsumed = errors.New("store: authorization code already consumed")
)

// StorageError wraps an adapter fault so callers can tell infrastructure
// failures apart from domain errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps err as a StorageError unless it is already a domain error.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrCodeConsumed) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
