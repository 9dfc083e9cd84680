package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/imamik/gpuprep/internal/orchestrator"
)

// Run handles the default command and --resume.
//
// It verifies the required host tools, then runs the pipeline once. The
// returned error carries the halt reason; ExitCode maps it to the process
// exit status.
func Run(ctx context.Context, configPath string, mode orchestrator.Mode) error {
	s, err := newSession(ctx, configPath, sessionOptions{prerequisites: true, console: true, logs: true})
	if err != nil {
		return err
	}
	defer s.Close()

	s.obs.Printf("Starting gpuprep (%s mode)", mode)

	report, err := s.orch.Run(ctx, mode)
	summarize(s.obs, report, err)
	return err
}

// summarize prints the final line of an invocation.
func summarize(obs observer, report *orchestrator.Report, err error) {
	if report != nil && len(report.Executed) > 0 {
		obs.Printf("Executed stages: %s", strings.Join(report.Executed, ", "))
	}

	var pending *orchestrator.RebootPendingError
	switch {
	case err == nil:
		obs.Printf("Provisioning complete")
	case errors.As(err, &pending):
		obs.Printf("Reboot pending after %s: %s", pending.Stage, pending.Reason)
	case errors.Is(err, orchestrator.ErrLockTimeout):
		obs.Printf("Another gpuprep invocation holds the deployment lock; check 'gpuprep --status'")
	default:
		obs.Printf("Provisioning halted: %v", err)
	}
}
