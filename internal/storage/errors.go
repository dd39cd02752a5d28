package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when no row exists at the address
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned by Add when a row already exists at the address
	ErrConflict = errors.New("entity already exists")
	// ErrUnsupportedKeyType is returned by key derivation for unknown key types
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	// ErrInvalidKey is returned when the key context cannot produce a valid address
	ErrInvalidKey = errors.New("invalid storage key")
)

// BackendError wraps transport, auth and backend failures
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err unless it is nil or already one of the taxonomy errors.
func NewBackendError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// IsBackendError reports whether err carries a BackendError
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
