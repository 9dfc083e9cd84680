package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gpuprep/cmd/gpuprep/handlers"
)

// Reset returns the reset command.
func Reset() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe deployment state and remove the lock",
		Long: `Reset deletes the state file, removes the boot-time resume unit and
breaks a stale lock. The next run starts again from the first stage.

Reset refuses while another gpuprep process is alive and holds the lock.
Already installed packages and configuration are not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Reset(cmd.Context(), configFlag(cmd), yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
