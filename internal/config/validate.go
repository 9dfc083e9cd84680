package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	driverVersionPattern = regexp.MustCompile(`^[0-9]{3}(-server|-open)?$`)
	cudaVersionPattern   = regexp.MustCompile(`^[0-9]{2}-[0-9]$`)
)

// Validate checks the configuration for common errors and returns a
// *ConfigurationError describing the first problem found.
func (c *Config) Validate() error {
	if c.StateDir == "" || !filepath.IsAbs(c.StateDir) {
		return fieldError("state_dir", "must be an absolute path, got %q", c.StateDir)
	}
	if c.LogFile != "" && !filepath.IsAbs(c.LogFile) {
		return fieldError("log_file", "must be an absolute path, got %q", c.LogFile)
	}
	if c.BinaryPath == "" || !filepath.IsAbs(c.BinaryPath) {
		return fieldError("binary_path", "must be an absolute path, got %q", c.BinaryPath)
	}
	if c.RebootDelay < 0 {
		return fieldError("reboot_delay", "must not be negative")
	}

	if !driverVersionPattern.MatchString(c.NvidiaDriverVersion) {
		return fieldError("nvidia_driver_version", "invalid driver branch %q (e.g. 550, 550-server)", c.NvidiaDriverVersion)
	}
	if !cudaVersionPattern.MatchString(c.CUDAVersion) {
		return fieldError("cuda_version", "invalid CUDA package version %q (e.g. 12-4)", c.CUDAVersion)
	}
	if c.UbuntuRelease == "" {
		return fieldError("ubuntu_release", "is required")
	}

	for _, hostPort := range c.NetworkCheckHosts {
		if _, _, err := net.SplitHostPort(hostPort); err != nil {
			return fieldError("network_check_hosts", "invalid host:port %q: %v", hostPort, err)
		}
	}

	for _, rule := range c.FirewallAllowedPorts {
		if err := validatePortRule(rule); err != nil {
			return fieldError("firewall_allowed_ports", "%v", err)
		}
	}

	for i, key := range c.SSHAuthorizedKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fieldError("ssh_authorized_keys", "entry %d is not a valid authorized key: %v", i, err)
		}
	}

	if c.ContainerSmokeTest && !c.InstallDocker {
		return fieldError("container_smoke_test", "requires install_docker")
	}

	if err := c.validateArchive(); err != nil {
		return err
	}

	return nil
}

// validatePortRule accepts "443", "443/tcp" or "60000:61000/udp".
func validatePortRule(rule string) error {
	ports, proto, hasProto := strings.Cut(rule, "/")
	if hasProto && proto != "tcp" && proto != "udp" {
		return fmt.Errorf("invalid protocol in %q: must be tcp or udp", rule)
	}
	lo, hi, isRange := strings.Cut(ports, ":")
	if err := validPort(lo); err != nil {
		return fmt.Errorf("invalid port rule %q: %w", rule, err)
	}
	if isRange {
		if err := validPort(hi); err != nil {
			return fmt.Errorf("invalid port rule %q: %w", rule, err)
		}
	}
	return nil
}

func validPort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port %q is not a number", s)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.ArchiveBucket == "" && c.ArchiveEndpoint == "" {
		return nil
	}
	if c.ArchiveBucket == "" || c.ArchiveEndpoint == "" {
		return fieldError("archive_bucket", "archive_bucket and archive_endpoint must be set together")
	}
	if c.ArchiveRegion == "" {
		return fieldError("archive_region", "is required when archiving is enabled")
	}
	if c.ArchiveAccessKey == "" || c.ArchiveSecretKey == "" {
		return fieldError("archive_access_key", "archive credentials are required (GPUPREP_ARCHIVE_ACCESS_KEY, GPUPREP_ARCHIVE_SECRET_KEY)")
	}
	return nil
}
