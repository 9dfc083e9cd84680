package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/state"
	"github.com/imamik/gpuprep/internal/ui/tui"
)

// Status handles --status.
//
// It never takes the lock and never writes, so it is safe to run while
// another invocation is provisioning.
func Status(ctx context.Context, configPath, format string) error {
	switch format {
	case "", "text", "json", "yaml":
	default:
		return &config.ConfigurationError{Field: "output", Err: fmt.Errorf("unsupported format %q (use text, json or yaml)", format)}
	}

	s, err := newSession(ctx, configPath, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := s.orch.Status()
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("no deployment state in %s; run gpuprep to start provisioning", s.cfg.StateDir)
	}
	if err != nil {
		return err
	}

	return printStatus(rep, format)
}

func printStatus(rep *orchestrator.StatusReport, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err

	case "yaml":
		data, err := yaml.Marshal(rep)
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		_, err = stdout.Write(data)
		return err

	default:
		name := ""
		if rep.State != nil {
			name = rep.State.SystemInfo.Hostname
		}
		_, err := fmt.Fprint(stdout, tui.RenderStatus(rep, tui.StatusOptions{Hostname: name}))
		return err
	}
}
