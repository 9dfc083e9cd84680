package orchestrator

import (
	"errors"
	"fmt"

	"github.com/imamik/gpuprep/internal/lock"
)

var (
	// ErrLockTimeout is returned when another invocation holds the lock for
	// longer than the configured wait.
	ErrLockTimeout = lock.ErrTimeout

	// ErrNetworkUnavailable is returned when no connectivity check host
	// answered before the first stage.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrAwaitingReboot marks a halt that only a reboot followed by a resume
	// can clear.
	ErrAwaitingReboot = errors.New("awaiting reboot")

	// ErrDeploymentActive is returned by Reset while a live process holds
	// the lock.
	ErrDeploymentActive = errors.New("deployment in progress")
)

// StageFailure reports a stage whose action returned Failure.
type StageFailure struct {
	Stage   string
	Message string
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Message)
}

// ValidationFailure reports a stage whose post-reboot validation failed.
// The stage is recorded as failed as well.
type ValidationFailure struct {
	Stage string
	Err   error
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("post-reboot validation of %s failed: %v", e.Stage, e.Err)
}

func (e *ValidationFailure) Unwrap() error {
	return e.Err
}

// RebootPendingError is returned whenever an invocation ends with the reboot
// flag set.
type RebootPendingError struct {
	Stage  string
	Reason string
}

func (e *RebootPendingError) Error() string {
	return fmt.Sprintf("reboot pending after %s: %s", e.Stage, e.Reason)
}

// Is makes errors.Is(err, ErrAwaitingReboot) hold.
func (e *RebootPendingError) Is(target error) bool {
	return target == ErrAwaitingReboot
}

// IsStageFailure reports whether err is or wraps a StageFailure.
func IsStageFailure(err error) bool {
	var sf *StageFailure
	return errors.As(err, &sf)
}

// IsValidationFailure reports whether err is or wraps a ValidationFailure.
func IsValidationFailure(err error) bool {
	var vf *ValidationFailure
	return errors.As(err, &vf)
}
