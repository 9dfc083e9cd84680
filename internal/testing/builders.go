package testing

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/imamik/gpuprep/internal/config"
)

// ConfigBuilder provides a fluent interface for constructing test configs.
// Each method returns a new builder (immutable) for chaining.
type ConfigBuilder struct {
	cfg config.Config
}

// NewConfigBuilder creates a builder whose paths live under dir. Reboots,
// syslog and the log file are off.
func NewConfigBuilder(dir string) *ConfigBuilder {
	cfg := *config.Default()
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.LogFile = ""
	cfg.Syslog = false
	cfg.UnitDir = filepath.Join(dir, "systemd")
	cfg.BinaryPath = "/usr/local/bin/gpuprep"
	cfg.AutoReboot = false
	cfg.RebootDelay = 0
	return &ConfigBuilder{cfg: cfg}
}

// WithAutoReboot toggles automatic reboots.
func (b *ConfigBuilder) WithAutoReboot(enabled bool) *ConfigBuilder {
	n := b.clone()
	n.cfg.AutoReboot = enabled
	return n
}

// WithRebootDelay sets the countdown before a reboot.
func (b *ConfigBuilder) WithRebootDelay(d time.Duration) *ConfigBuilder {
	n := b.clone()
	n.cfg.RebootDelay = d
	return n
}

// WithNetworkCheckHosts sets the connectivity probe targets.
func (b *ConfigBuilder) WithNetworkCheckHosts(hosts ...string) *ConfigBuilder {
	n := b.clone()
	n.cfg.NetworkCheckHosts = hosts
	return n
}

// WithDriver sets the NVIDIA driver branch.
func (b *ConfigBuilder) WithDriver(version string) *ConfigBuilder {
	n := b.clone()
	n.cfg.NvidiaDriverVersion = version
	return n
}

// WithDocker toggles docker and the GPU container smoke test.
func (b *ConfigBuilder) WithDocker(install, smokeTest bool) *ConfigBuilder {
	n := b.clone()
	n.cfg.InstallDocker = install
	n.cfg.ContainerSmokeTest = smokeTest
	return n
}

// WithSSHKeys sets the authorized keys for the SSH user.
func (b *ConfigBuilder) WithSSHKeys(user string, keys ...string) *ConfigBuilder {
	n := b.clone()
	n.cfg.SSHUser = user
	n.cfg.SSHAuthorizedKeys = keys
	return n
}

// WithFirewallPorts sets the allowed inbound port rules.
func (b *ConfigBuilder) WithFirewallPorts(ports ...string) *ConfigBuilder {
	n := b.clone()
	n.cfg.FirewallAllowedPorts = ports
	return n
}

// WithExtraPackages adds packages to the base-packages stage.
func (b *ConfigBuilder) WithExtraPackages(pkgs ...string) *ConfigBuilder {
	n := b.clone()
	n.cfg.ExtraPackages = pkgs
	return n
}

// WithMetricsDir enables the Prometheus textfile.
func (b *ConfigBuilder) WithMetricsDir(dir string) *ConfigBuilder {
	n := b.clone()
	n.cfg.MetricsTextfileDir = dir
	return n
}

// WithArchive enables the S3 state archive.
func (b *ConfigBuilder) WithArchive(endpoint, bucket string) *ConfigBuilder {
	n := b.clone()
	n.cfg.ArchiveEndpoint = endpoint
	n.cfg.ArchiveBucket = bucket
	n.cfg.ArchiveRegion = "us-east-1"
	n.cfg.ArchiveAccessKey = "test-access"
	n.cfg.ArchiveSecretKey = "test-secret"
	return n
}

// Build returns the constructed config.
func (b *ConfigBuilder) Build() *config.Config {
	cfg := b.clone().cfg
	return &cfg
}

func (b *ConfigBuilder) clone() *ConfigBuilder {
	cfg := b.cfg
	cfg.NetworkCheckHosts = slices.Clone(b.cfg.NetworkCheckHosts)
	cfg.SSHAuthorizedKeys = slices.Clone(b.cfg.SSHAuthorizedKeys)
	cfg.FirewallAllowedPorts = slices.Clone(b.cfg.FirewallAllowedPorts)
	cfg.ExtraPackages = slices.Clone(b.cfg.ExtraPackages)
	return &ConfigBuilder{cfg: cfg}
}
