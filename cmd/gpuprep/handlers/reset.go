package handlers

import (
	"context"
	"errors"
	"os"
)

// errResetAborted is returned when the operator declines the confirmation.
var errResetAborted = errors.New("reset aborted")

// Reset handles --reset.
//
// Without --yes it asks for confirmation on an interactive terminal and
// refuses otherwise, so a stray flag in a script cannot wipe progress.
func Reset(ctx context.Context, configPath string, yes bool) error {
	s, err := newSession(ctx, configPath, sessionOptions{console: true, logs: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if !yes {
		if !isTerminal(os.Stdin) {
			return errors.New("refusing to reset without --yes on a non-interactive terminal")
		}
		ok, err := confirmReset(s.cfg.StateDir)
		if err != nil {
			return err
		}
		if !ok {
			return errResetAborted
		}
	}

	if err := s.orch.Reset(ctx); err != nil {
		return err
	}
	s.obs.Printf("Deployment state in %s reset", s.cfg.StateDir)
	return nil
}
