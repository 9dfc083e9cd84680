// Package main is the entry point for the gpuprep CLI.
//
// gpuprep turns a fresh Ubuntu host into a GPU-ready node. It runs an
// ordered list of provisioning stages, persists progress after every stage
// transition, and resumes from the first unfinished stage after a crash or
// a reboot the pipeline requested itself.
//
// For detailed usage information, run:
//
//	gpuprep --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/gpuprep/cmd/gpuprep/commands"
	"github.com/imamik/gpuprep/cmd/gpuprep/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(handlers.ExitCode(err))
	}
}
