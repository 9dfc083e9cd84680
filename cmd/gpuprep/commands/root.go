// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/gpuprep/cmd/gpuprep/handlers"
	"github.com/imamik/gpuprep/internal/orchestrator"
)

// Root returns the root command for the gpuprep CLI.
//
// Without a subcommand the root runs the pipeline. The --resume, --status
// and --reset flags select the other modes, matching the entry points the
// boot-time unit and operators have always used.
func Root() *cobra.Command {
	var (
		resume bool
		status bool
		reset  bool
		yes    bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "gpuprep",
		Short: "Resumable GPU host provisioning for Ubuntu",
		Long: `gpuprep provisions a fresh Ubuntu host with the NVIDIA driver, CUDA,
Docker and the NVIDIA container runtime, then hardens the firewall and SSH.

Progress is stored in a state file after every stage. If the host crashes
or reboots, the next invocation continues with the first unfinished stage.
Stages that need a reboot arm a systemd unit that resumes automatically.

Examples:
  gpuprep                 # run (or continue) provisioning
  gpuprep --status        # show progress
  gpuprep --resume        # continue after a reboot
  gpuprep --reset --yes   # forget all progress`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath := configFlag(cmd)
			switch {
			case status:
				return handlers.Status(cmd.Context(), configPath, output)
			case reset:
				return handlers.Reset(cmd.Context(), configPath, yes)
			case resume:
				return handlers.Run(cmd.Context(), configPath, orchestrator.ModeResume)
			default:
				return handlers.Run(cmd.Context(), configPath, orchestrator.ModeRun)
			}
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (default: /etc/gpuprep/config.yaml)")

	cmd.Flags().BoolVar(&resume, "resume", false, "Continue after a reboot")
	cmd.Flags().BoolVar(&status, "status", false, "Show deployment progress without changing anything")
	cmd.Flags().BoolVar(&reset, "reset", false, "Wipe deployment state and remove the lock")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the reset confirmation")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Status output format: text, json or yaml")
	cmd.MarkFlagsMutuallyExclusive("resume", "status", "reset")

	cmd.AddCommand(Run())
	cmd.AddCommand(Resume())
	cmd.AddCommand(Status())
	cmd.AddCommand(Reset())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}

// configFlag returns the inherited --config value.
func configFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
