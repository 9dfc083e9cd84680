package stage

import (
	"context"
	"fmt"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/hostexec"
	"github.com/imamik/gpuprep/internal/observability"
)

// Outcome is the result category of a single action execution.
type Outcome int

const (
	// Success means the stage finished and the pipeline may continue.
	Success Outcome = iota
	// Failure halts the pipeline.
	Failure
	// SuccessRebootRequired means the stage finished but the host must
	// restart before the next stage.
	SuccessRebootRequired
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case SuccessRebootRequired:
		return "success-reboot-required"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what an action reports back to the orchestrator.
type Result struct {
	Outcome Outcome
	Message string
}

// Succeeded returns a Success result.
func Succeeded() Result {
	return Result{Outcome: Success}
}

// Failed returns a Failure result with the given message.
func Failed(msg string) Result {
	return Result{Outcome: Failure, Message: msg}
}

// Failedf returns a Failure result with a formatted message.
func Failedf(format string, args ...any) Result {
	return Failed(fmt.Sprintf(format, args...))
}

// FromError converts err into a Failure result, or Success when err is nil.
func FromError(err error) Result {
	if err == nil {
		return Succeeded()
	}
	return Failed(err.Error())
}

// RebootRequired returns a SuccessRebootRequired result.
func RebootRequired(msg string) Result {
	return Result{Outcome: SuccessRebootRequired, Message: msg}
}

// Env is the read-only context passed to every action.
type Env struct {
	Config   *config.Config
	Observer observability.Observer
	Host     hostexec.Host
	// Timeouts bounds command retries inside actions. Nil means the
	// environment defaults from config.LoadTimeouts.
	Timeouts *config.Timeouts
}

// Action performs the work of one stage.
type Action interface {
	Execute(ctx context.Context, env *Env) Result
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, env *Env) Result

// Execute implements Action.
func (f ActionFunc) Execute(ctx context.Context, env *Env) Result {
	return f(ctx, env)
}

// Validator is implemented by actions that can confirm their work took
// effect after the reboot they requested.
type Validator interface {
	ValidateAfterReboot(ctx context.Context, env *Env) error
}
