package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gpuprep/cmd/gpuprep/handlers"
)

// Status returns the status command.
//
// Status reads the state file without taking the lock and never changes
// anything, so it is safe to run while provisioning is in progress.
//
// Optional flags:
//
//	--output, -o: text (default), json or yaml
func Status() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Status(cmd.Context(), configFlag(cmd), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")

	return cmd
}
