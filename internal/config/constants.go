package config

// Default filesystem locations.
const (
	// DefaultPath is the configuration file read when no --config flag is given.
	DefaultPath = "/etc/gpuprep/config.yaml"

	// DefaultStateDir holds state.json and the lock directory.
	DefaultStateDir = "/var/lib/gpuprep"

	// DefaultLogFile is the append-only human-readable deployment log.
	DefaultLogFile = "/var/log/gpuprep.log"

	// DefaultBinaryPath is the path the boot-time resume unit executes.
	DefaultBinaryPath = "/usr/local/bin/gpuprep"

	// DefaultUnitDir is where the resume unit file is written.
	DefaultUnitDir = "/etc/systemd/system"
)

// SSHPort is the port the firewall stage always keeps open.
const SSHPort = "22/tcp"
