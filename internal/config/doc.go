// Package config defines the immutable configuration shared by the
// orchestrator and every provisioning action.
//
// Configuration is a flat set of typed options read once from a YAML file
// (default [DefaultPath]) and overlaid with GPUPREP_* environment variables.
// Timeouts are loaded separately from the environment by [LoadTimeouts].
// A [Config] is never mutated after [Load] returns it.
package config
