package config

import "time"

// Config is the flat, typed option set for one host deployment.
type Config struct {
	// Paths
	StateDir   string `yaml:"state_dir"`
	LogFile    string `yaml:"log_file"`
	Syslog     bool   `yaml:"syslog"`
	BinaryPath string `yaml:"binary_path"`
	UnitDir    string `yaml:"unit_dir"`

	// Reboot handling
	AutoReboot  bool          `yaml:"auto_reboot"`
	RebootDelay time.Duration `yaml:"reboot_delay"`

	// Network checks run before the first stage
	NetworkCheckHosts []string `yaml:"network_check_hosts"`

	// GPU stack
	NvidiaDriverVersion string `yaml:"nvidia_driver_version"`
	CUDAVersion         string `yaml:"cuda_version"`
	UbuntuRelease       string `yaml:"ubuntu_release"`

	// Containers
	InstallDocker      bool   `yaml:"install_docker"`
	ContainerSmokeTest bool   `yaml:"container_smoke_test"`
	SmokeTestImage     string `yaml:"smoke_test_image"`

	// Access
	SSHAuthorizedKeys      []string `yaml:"ssh_authorized_keys"`
	SSHUser                string   `yaml:"ssh_user"`
	SSHDisablePasswordAuth bool     `yaml:"ssh_disable_password_auth"`
	FirewallAllowedPorts   []string `yaml:"firewall_allowed_ports"`

	// Extra packages installed by the base-packages stage
	ExtraPackages []string `yaml:"extra_packages"`

	// Observability
	MetricsTextfileDir string `yaml:"metrics_textfile_dir"`

	// Optional S3-compatible archive of state.json
	ArchiveEndpoint  string `yaml:"archive_endpoint"`
	ArchiveRegion    string `yaml:"archive_region"`
	ArchiveBucket    string `yaml:"archive_bucket"`
	ArchivePrefix    string `yaml:"archive_prefix"`
	ArchiveAccessKey string `yaml:"archive_access_key"`
	ArchiveSecretKey string `yaml:"archive_secret_key"`
	ArchivePathStyle bool   `yaml:"archive_path_style"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	return &Config{
		StateDir:               DefaultStateDir,
		LogFile:                DefaultLogFile,
		Syslog:                 true,
		BinaryPath:             DefaultBinaryPath,
		UnitDir:                DefaultUnitDir,
		AutoReboot:             true,
		RebootDelay:            10 * time.Second,
		NvidiaDriverVersion:    "550",
		CUDAVersion:            "12-4",
		UbuntuRelease:          "ubuntu2204",
		InstallDocker:          true,
		SmokeTestImage:         "nvidia/cuda:12.4.1-base-ubuntu22.04",
		SSHUser:                "root",
		SSHDisablePasswordAuth: true,
	}
}

// ArchiveEnabled reports whether state snapshots should be uploaded.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != "" && c.ArchiveEndpoint != ""
}

// MetricsEnabled reports whether a Prometheus textfile should be written.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsTextfileDir != ""
}
