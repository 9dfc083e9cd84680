// Package handlers implements the gpuprep commands. It wires configuration,
// logging, the state store, the deployment lock, the boot-time trigger and
// the reporters into an orchestrator and maps the result to an exit code.
package handlers
