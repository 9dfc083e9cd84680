package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	LockWait             time.Duration // Bounded wait for the deployment lock
	LockPoll             time.Duration // Interval between lock acquisition attempts
	NetworkWait          time.Duration // Bounded wait for connectivity before the first stage
	NetworkPoll          time.Duration // Interval between connectivity probes
	PostRebootValidation time.Duration // Bound on the post-reboot check of the rebooting stage
	RetryMaxAttempts     int           // Attempts for retried commands inside actions (apt lock, downloads)
	RetryInitialDelay    time.Duration // Initial backoff for sub-operation retries
	RetryMaxDelay        time.Duration // Backoff ceiling for sub-operation retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - GPUPREP_TIMEOUT_LOCK_WAIT (default: 5m)
//   - GPUPREP_TIMEOUT_LOCK_POLL (default: 2s)
//   - GPUPREP_TIMEOUT_NETWORK_WAIT (default: 2m)
//   - GPUPREP_TIMEOUT_NETWORK_POLL (default: 2s)
//   - GPUPREP_TIMEOUT_POST_REBOOT (default: 5m)
//   - GPUPREP_RETRY_MAX_ATTEMPTS (default: 10)
//   - GPUPREP_RETRY_INITIAL_DELAY (default: 10s)
//   - GPUPREP_RETRY_MAX_DELAY (default: 1m)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		LockWait:             parseDuration("GPUPREP_TIMEOUT_LOCK_WAIT", 5*time.Minute),
		LockPoll:             parseDuration("GPUPREP_TIMEOUT_LOCK_POLL", 2*time.Second),
		NetworkWait:          parseDuration("GPUPREP_TIMEOUT_NETWORK_WAIT", 2*time.Minute),
		NetworkPoll:          parseDuration("GPUPREP_TIMEOUT_NETWORK_POLL", 2*time.Second),
		PostRebootValidation: parseDuration("GPUPREP_TIMEOUT_POST_REBOOT", 5*time.Minute),
		RetryMaxAttempts:     parseInt("GPUPREP_RETRY_MAX_ATTEMPTS", 10),
		RetryInitialDelay:    parseDuration("GPUPREP_RETRY_INITIAL_DELAY", 10*time.Second),
		RetryMaxDelay:        parseDuration("GPUPREP_RETRY_MAX_DELAY", time.Minute),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses a positive integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}

	return i
}
