package handlers

import (
	"errors"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/state"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitConfig         = 2
	ExitLockTimeout    = 3
	ExitStorage        = 4
	ExitValidation     = 5
	ExitAwaitingReboot = 10
)

// ExitCode maps an error returned by a handler to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case config.IsConfigurationError(err):
		return ExitConfig
	case errors.Is(err, orchestrator.ErrLockTimeout):
		return ExitLockTimeout
	case orchestrator.IsValidationFailure(err):
		return ExitValidation
	case state.IsStorageError(err):
		return ExitStorage
	case errors.Is(err, orchestrator.ErrAwaitingReboot):
		return ExitAwaitingReboot
	default:
		return ExitFailure
	}
}
