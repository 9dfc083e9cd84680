package actions

import (
	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/stage"
)

// Stage ids of the default pipeline, in execution order.
const (
	StageSystemUpdate           = "system-update"
	StageBasePackages           = "base-packages"
	StageNvidiaDriver           = "nvidia-driver"
	StageCUDAToolkit            = "cuda-toolkit"
	StageDocker                 = "docker"
	StageNvidiaContainerToolkit = "nvidia-container-toolkit"
	StageFirewall               = "firewall"
	StageSSHHardening           = "ssh-hardening"
	StageValidation             = "validation"
)

// DefaultRegistry returns the GPU provisioning pipeline. The stage list is
// the same for every configuration so a state file stays valid across
// config edits; disabled features become no-op successes.
func DefaultRegistry(cfg *config.Config) (*stage.Registry, error) {
	return stage.New(
		stage.Descriptor{ID: StageSystemUpdate, DisplayName: "System update", Action: &SystemUpdate{}},
		stage.Descriptor{ID: StageBasePackages, DisplayName: "Base packages", Action: &BasePackages{Extra: cfg.ExtraPackages}},
		stage.Descriptor{ID: StageNvidiaDriver, DisplayName: "NVIDIA driver", Action: &NvidiaDriver{}},
		stage.Descriptor{ID: StageCUDAToolkit, DisplayName: "CUDA toolkit", Action: &CUDAToolkit{}},
		stage.Descriptor{ID: StageDocker, DisplayName: "Docker engine", Action: &Docker{}},
		stage.Descriptor{ID: StageNvidiaContainerToolkit, DisplayName: "NVIDIA container toolkit", Action: &NvidiaContainerToolkit{}},
		stage.Descriptor{ID: StageFirewall, DisplayName: "Firewall", Action: &Firewall{}},
		stage.Descriptor{ID: StageSSHHardening, DisplayName: "SSH hardening", Action: &SSHHardening{}},
		stage.Descriptor{ID: StageValidation, DisplayName: "Validation", Action: &Validation{}},
	)
}
