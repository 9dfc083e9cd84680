package actions

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/util/retry"
)

const (
	// nvidiaVendorID is the PCI vendor id of NVIDIA devices.
	nvidiaVendorID = "10de:"

	cudaRepoBase      = "https://developer.download.nvidia.com/compute/cuda/repos"
	cudaKeyringDeb    = "cuda-keyring_1.1-1_all.deb"
	cudaKeyringPath   = "/tmp/gpuprep-cuda-keyring.deb"
	cudaProfileScript = "/etc/profile.d/gpuprep-cuda.sh"

	containerToolkitKeyURL  = "https://nvidia.github.io/libnvidia-container/gpgkey"
	containerToolkitKeyTmp  = "/tmp/gpuprep-nvidia-container-toolkit.key"
	containerToolkitKeyring = "/usr/share/keyrings/nvidia-container-toolkit-keyring.gpg"
	containerToolkitList    = "/etc/apt/sources.list.d/nvidia-container-toolkit.list"
)

// download fetches url to path with curl, retrying transient failures.
func download(ctx context.Context, env *stage.Env, url, path string) error {
	opts := append(retryPolicy(env),
		retry.WithOnRetry(func(attempt int, err error, next time.Duration) {
			env.Observer.Printf("[download] %s failed (attempt %d), retrying in %s: %v", url, attempt, next, err)
		}),
	)
	return retry.WithExponentialBackoff(ctx, func(ctx context.Context) error {
		_, err := env.Host.Run(ctx, "curl", "-fsSL", "--retry", "2", "-o", path, url)
		return err
	}, opts...)
}

// kernelModuleLoaded reports whether lsmod lists the module.
func kernelModuleLoaded(ctx context.Context, env *stage.Env, module string) (bool, error) {
	out, err := env.Host.Run(ctx, "lsmod")
	if err != nil {
		return false, fmt.Errorf("lsmod: %w", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[0] == module {
			return true, nil
		}
	}
	return false, nil
}

// queryGPUs runs nvidia-smi and returns one "name, driver" line per GPU.
func queryGPUs(ctx context.Context, env *stage.Env) ([]string, error) {
	out, err := env.Host.Run(ctx, "nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	var gpus []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			gpus = append(gpus, line)
		}
	}
	if len(gpus) == 0 {
		return nil, errors.New("nvidia-smi reported no GPUs")
	}
	return gpus, nil
}

// NvidiaDriver installs the configured NVIDIA driver branch. The freshly
// built kernel module usually cannot be loaded while nouveau is active, so
// the stage asks for a reboot unless the module is already live.
type NvidiaDriver struct{}

// Execute implements stage.Action.
func (a *NvidiaDriver) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer

	out, err := env.Host.Run(ctx, "lspci", "-d", nvidiaVendorID)
	if err != nil {
		return stage.Failedf("lspci: %v", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return stage.Failed("no NVIDIA GPU detected on the PCI bus")
	}

	pkg := "nvidia-driver-" + env.Config.NvidiaDriverVersion
	obs.Printf("[%s] Installing %s...", StageNvidiaDriver, pkg)
	if err := aptInstall(ctx, env, pkg); err != nil {
		return stage.FromError(err)
	}

	loaded, err := kernelModuleLoaded(ctx, env, "nvidia")
	if err != nil {
		return stage.FromError(err)
	}
	if !loaded {
		obs.Printf("[%s] Kernel module not loaded, reboot required", StageNvidiaDriver)
		return stage.RebootRequired("nvidia kernel module not loaded, reboot required")
	}

	gpus, err := queryGPUs(ctx, env)
	if err != nil {
		return stage.FromError(err)
	}
	obs.Printf("[%s] Driver active: %s", StageNvidiaDriver, strings.Join(gpus, "; "))
	return stage.Succeeded()
}

// ValidateAfterReboot implements stage.Validator.
func (a *NvidiaDriver) ValidateAfterReboot(ctx context.Context, env *stage.Env) error {
	loaded, err := kernelModuleLoaded(ctx, env, "nvidia")
	if err != nil {
		return err
	}
	if !loaded {
		return errors.New("nvidia kernel module is not loaded after reboot")
	}
	gpus, err := queryGPUs(ctx, env)
	if err != nil {
		return err
	}
	env.Observer.Printf("[%s] Driver active after reboot: %s", StageNvidiaDriver, strings.Join(gpus, "; "))
	return nil
}

// CUDAToolkit installs the CUDA toolkit from NVIDIA's apt repository.
type CUDAToolkit struct{}

// Execute implements stage.Action.
func (a *CUDAToolkit) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	cfg := env.Config

	url := fmt.Sprintf("%s/%s/x86_64/%s", cudaRepoBase, cfg.UbuntuRelease, cudaKeyringDeb)
	obs.Printf("[%s] Downloading repository keyring...", StageCUDAToolkit)
	if err := download(ctx, env, url, cudaKeyringPath); err != nil {
		return stage.Failedf("download CUDA keyring: %v", err)
	}
	if _, err := env.Host.Run(ctx, "dpkg", "-i", cudaKeyringPath); err != nil {
		return stage.Failedf("install CUDA keyring: %v", err)
	}
	_ = env.Host.Remove(cudaKeyringPath)

	if err := aptUpdate(ctx, env); err != nil {
		return stage.FromError(err)
	}

	pkg := "cuda-toolkit-" + cfg.CUDAVersion
	obs.Printf("[%s] Installing %s...", StageCUDAToolkit, pkg)
	if err := aptInstall(ctx, env, pkg); err != nil {
		return stage.FromError(err)
	}

	dir := "/usr/local/cuda-" + strings.ReplaceAll(cfg.CUDAVersion, "-", ".")
	profile := fmt.Sprintf("export PATH=%s/bin${PATH:+:${PATH}}\nexport LD_LIBRARY_PATH=%s/lib64${LD_LIBRARY_PATH:+:${LD_LIBRARY_PATH}}\n", dir, dir)
	if err := env.Host.WriteFile(cudaProfileScript, []byte(profile), 0o644); err != nil {
		return stage.Failedf("write %s: %v", cudaProfileScript, err)
	}

	if _, err := env.Host.Run(ctx, dir+"/bin/nvcc", "--version"); err != nil {
		return stage.Failedf("nvcc not usable after install: %v", err)
	}
	return stage.Succeeded()
}

// NvidiaContainerToolkit wires the NVIDIA runtime into Docker. It is a
// no-op when Docker is disabled.
type NvidiaContainerToolkit struct{}

// Execute implements stage.Action.
func (a *NvidiaContainerToolkit) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	if !env.Config.InstallDocker {
		obs.Printf("[%s] Docker disabled, skipping", StageNvidiaContainerToolkit)
		return stage.Result{Outcome: stage.Success, Message: "skipped: docker disabled"}
	}

	if err := download(ctx, env, containerToolkitKeyURL, containerToolkitKeyTmp); err != nil {
		return stage.Failedf("download container toolkit key: %v", err)
	}
	if _, err := env.Host.Run(ctx, "gpg", "--batch", "--yes", "--dearmor", "-o", containerToolkitKeyring, containerToolkitKeyTmp); err != nil {
		return stage.Failedf("import container toolkit key: %v", err)
	}
	_ = env.Host.Remove(containerToolkitKeyTmp)

	arch, err := env.Host.Run(ctx, "dpkg", "--print-architecture")
	if err != nil {
		return stage.Failedf("determine architecture: %v", err)
	}
	list := fmt.Sprintf("deb [signed-by=%s] https://nvidia.github.io/libnvidia-container/stable/deb/%s /\n",
		containerToolkitKeyring, strings.TrimSpace(string(arch)))
	if err := env.Host.WriteFile(containerToolkitList, []byte(list), 0o644); err != nil {
		return stage.Failedf("write %s: %v", containerToolkitList, err)
	}

	if err := aptUpdate(ctx, env); err != nil {
		return stage.FromError(err)
	}
	obs.Printf("[%s] Installing nvidia-container-toolkit...", StageNvidiaContainerToolkit)
	if err := aptInstall(ctx, env, "nvidia-container-toolkit"); err != nil {
		return stage.FromError(err)
	}

	if _, err := env.Host.Run(ctx, "nvidia-ctk", "runtime", "configure", "--runtime=docker"); err != nil {
		return stage.Failedf("configure docker runtime: %v", err)
	}
	if _, err := env.Host.Run(ctx, "systemctl", "restart", "docker"); err != nil {
		return stage.Failedf("restart docker: %v", err)
	}
	return stage.Succeeded()
}
