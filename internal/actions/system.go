package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/imamik/gpuprep/internal/stage"
)

// rebootRequiredFile is created by Ubuntu packages that need a restart to
// take effect, typically a new kernel.
const rebootRequiredFile = "/var/run/reboot-required"

// basePackages are installed on every host. Kernel headers for the running
// kernel are added at runtime so DKMS can build the NVIDIA module.
var basePackages = []string{
	"build-essential",
	"ca-certificates",
	"curl",
	"gnupg",
	"pciutils",
	"ufw",
	"dkms",
}

// SystemUpdate refreshes the package index and upgrades installed packages.
// It requests a reboot when an upgrade leaves the reboot-required marker
// behind.
type SystemUpdate struct{}

// Execute implements stage.Action.
func (a *SystemUpdate) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	obs.Printf("[%s] Repairing interrupted package operations...", StageSystemUpdate)
	if _, err := env.Host.Run(ctx, "dpkg", "--configure", "-a"); err != nil {
		return stage.Failedf("dpkg --configure -a: %v", err)
	}

	obs.Printf("[%s] Updating package index...", StageSystemUpdate)
	if err := aptUpdate(ctx, env); err != nil {
		return stage.FromError(err)
	}

	obs.Printf("[%s] Upgrading installed packages...", StageSystemUpdate)
	args := append([]string{"upgrade"}, aptOptions...)
	if err := aptRun(ctx, env, args...); err != nil {
		return stage.Failedf("apt-get upgrade: %v", unwrapFatal(err))
	}

	pending, err := rebootPending(env)
	if err != nil {
		return stage.FromError(err)
	}
	if pending {
		obs.Printf("[%s] Upgrade requires a reboot", StageSystemUpdate)
		return stage.RebootRequired("package upgrade requires a reboot")
	}
	return stage.Succeeded()
}

// ValidateAfterReboot implements stage.Validator.
func (a *SystemUpdate) ValidateAfterReboot(_ context.Context, env *stage.Env) error {
	pending, err := rebootPending(env)
	if err != nil {
		return err
	}
	if pending {
		return errors.New("reboot-required marker still present after reboot")
	}
	return nil
}

func rebootPending(env *stage.Env) (bool, error) {
	_, err := env.Host.ReadFile(rebootRequiredFile)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("check %s: %w", rebootRequiredFile, err)
}

// BasePackages installs build tooling, kernel headers and utilities the
// later stages depend on.
type BasePackages struct {
	Extra []string
}

// Execute implements stage.Action.
func (a *BasePackages) Execute(ctx context.Context, env *stage.Env) stage.Result {
	kernel, err := env.Host.Run(ctx, "uname", "-r")
	if err != nil {
		return stage.Failedf("determine running kernel: %v", err)
	}

	pkgs := append([]string{}, basePackages...)
	if release := strings.TrimSpace(string(kernel)); release != "" {
		pkgs = append(pkgs, "linux-headers-"+release)
	}
	pkgs = append(pkgs, a.Extra...)

	env.Observer.Printf("[%s] Installing %d packages...", StageBasePackages, len(pkgs))
	if err := aptInstall(ctx, env, pkgs...); err != nil {
		return stage.FromError(err)
	}
	return stage.Succeeded()
}
