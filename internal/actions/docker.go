package actions

import (
	"context"

	"github.com/imamik/gpuprep/internal/stage"
)

// Docker installs the Docker engine from the Ubuntu archive and enables the
// service. The configured SSH user is added to the docker group.
type Docker struct{}

// Execute implements stage.Action.
func (a *Docker) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	if !env.Config.InstallDocker {
		obs.Printf("[%s] Docker disabled, skipping", StageDocker)
		return stage.Result{Outcome: stage.Success, Message: "skipped: docker disabled"}
	}

	obs.Printf("[%s] Installing docker.io...", StageDocker)
	if err := aptInstall(ctx, env, "docker.io"); err != nil {
		return stage.FromError(err)
	}
	if _, err := env.Host.Run(ctx, "systemctl", "enable", "--now", "docker"); err != nil {
		return stage.Failedf("enable docker: %v", err)
	}

	if user := env.Config.SSHUser; user != "" && user != "root" {
		if _, err := env.Host.Run(ctx, "usermod", "-aG", "docker", user); err != nil {
			return stage.Failedf("add %s to docker group: %v", user, err)
		}
	}
	return stage.Succeeded()
}
