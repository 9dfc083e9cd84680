package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gpuprep/cmd/gpuprep/handlers"
	"github.com/imamik/gpuprep/internal/orchestrator"
)

// Run returns the run command.
//
// Run starts provisioning on a fresh host or continues from the first
// unfinished stage. It refuses to continue while a reboot requested by an
// earlier stage is still pending.
func Run() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run or continue provisioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), configFlag(cmd), orchestrator.ModeRun)
		},
	}
}

// Resume returns the resume command.
//
// Resume is what the boot-time unit executes. It clears a pending reboot,
// validates the stage that requested it, and continues the pipeline.
func Resume() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue provisioning after a reboot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), configFlag(cmd), orchestrator.ModeResume)
		},
	}
}
