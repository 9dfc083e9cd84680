package testing

import (
	"context"
	"sync"

	"github.com/imamik/gpuprep/internal/stage"
)

// ScriptedAction returns programmed results in order, repeating the last one
// once the script runs out. It implements stage.Validator.
type ScriptedAction struct {
	mu          sync.Mutex
	results     []stage.Result
	cursor      int
	calls       int
	validations int

	// ValidateErr is returned by ValidateAfterReboot.
	ValidateErr error
	// OnExecute runs before the result is returned.
	OnExecute func(ctx context.Context, env *stage.Env)
}

// NewScriptedAction creates an action returning results in order. With no
// results it always succeeds.
func NewScriptedAction(results ...stage.Result) *ScriptedAction {
	return &ScriptedAction{results: results}
}

// Execute implements stage.Action.
func (a *ScriptedAction) Execute(ctx context.Context, env *stage.Env) stage.Result {
	a.mu.Lock()
	idx := a.cursor
	a.cursor++
	a.calls++
	hook := a.OnExecute
	a.mu.Unlock()

	if hook != nil {
		hook(ctx, env)
	}

	if len(a.results) == 0 {
		return stage.Succeeded()
	}
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	return a.results[idx]
}

// ValidateAfterReboot implements stage.Validator.
func (a *ScriptedAction) ValidateAfterReboot(ctx context.Context, _ *stage.Env) error {
	a.mu.Lock()
	a.validations++
	err := a.ValidateErr
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// SetResults replaces the remaining script and resets the cursor.
func (a *ScriptedAction) SetResults(results ...stage.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = results
	a.cursor = 0
}

// Calls returns how many times Execute ran.
func (a *ScriptedAction) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Validations returns how many times ValidateAfterReboot ran.
func (a *ScriptedAction) Validations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validations
}
