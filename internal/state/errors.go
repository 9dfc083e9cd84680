package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Load when the document was never initialized.
	ErrNotFound = errors.New("deployment state not found")

	// ErrUnknownStage is returned when a stage id is not in the registry.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrRegistryMismatch means the stored stage set differs from the registry.
	ErrRegistryMismatch = errors.New("state does not match stage registry")
)

// StorageError reports that the state document could not be read or written.
// It is fatal for the current run.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("state storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// InvariantError reports a mutation that would break a state invariant.
// The document on disk is left untouched.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "state invariant violated: " + e.Reason
}
