package actions

import (
	"context"
	"strings"

	"github.com/imamik/gpuprep/internal/stage"
)

// Validation checks the finished host end to end: the driver answers,
// Docker is running, a GPU container can see the devices and sshd still
// accepts connections.
type Validation struct{}

// Execute implements stage.Action.
func (a *Validation) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	cfg := env.Config

	gpus, err := queryGPUs(ctx, env)
	if err != nil {
		return stage.FromError(err)
	}
	obs.Printf("[%s] GPUs: %s", StageValidation, strings.Join(gpus, "; "))

	if cfg.InstallDocker {
		if _, err := env.Host.Run(ctx, "docker", "info", "--format", "{{.ServerVersion}}"); err != nil {
			return stage.Failedf("docker daemon not healthy: %v", err)
		}
		if cfg.ContainerSmokeTest {
			obs.Printf("[%s] Running GPU container smoke test with %s...", StageValidation, cfg.SmokeTestImage)
			if _, err := env.Host.Run(ctx, "docker", "run", "--rm", "--gpus", "all", cfg.SmokeTestImage, "nvidia-smi"); err != nil {
				return stage.Failedf("GPU container smoke test failed: %v", err)
			}
		}
	}

	if err := waitForPort(ctx, sshdLocal, sshdPort, sshdWait); err != nil {
		return stage.Failedf("sshd not reachable: %v", err)
	}

	obs.Printf("[%s] Host is GPU-ready", StageValidation)
	return stage.Succeeded()
}
