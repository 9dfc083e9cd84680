package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, applies defaults and
// environment overrides, and validates the result.
//
// An empty path means DefaultPath. A missing default file is not an error:
// the defaults are used. A missing explicit file is a ConfigurationError.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := Default()

	// #nosec G304
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("failed to parse %s: %w", path, err)}
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromBytes parses and validates a configuration from bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects unknown keys so typos surface before any stage runs.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays GPUPREP_* environment variables.
// Archive credentials are usually only supplied this way.
func applyEnv(cfg *Config) {
	setString(&cfg.StateDir, "GPUPREP_STATE_DIR")
	setString(&cfg.LogFile, "GPUPREP_LOG_FILE")
	setString(&cfg.BinaryPath, "GPUPREP_BINARY_PATH")
	setString(&cfg.MetricsTextfileDir, "GPUPREP_METRICS_TEXTFILE_DIR")
	setString(&cfg.ArchiveAccessKey, "GPUPREP_ARCHIVE_ACCESS_KEY")
	setString(&cfg.ArchiveSecretKey, "GPUPREP_ARCHIVE_SECRET_KEY")

	if v, ok := os.LookupEnv("GPUPREP_AUTO_REBOOT"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.AutoReboot = true
		case "0", "false", "no":
			cfg.AutoReboot = false
		}
	}
}

func setString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}
