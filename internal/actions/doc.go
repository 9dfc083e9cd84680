// Package actions implements the provisioning stages that turn a fresh
// Ubuntu host into a GPU-ready node: package updates, the NVIDIA driver and
// CUDA toolkit, Docker with the NVIDIA runtime, firewall and SSH hardening,
// and a final end-to-end validation.
//
// Every action is idempotent. A stage interrupted by a crash or power loss
// is simply executed again on resume, so each step either converges on the
// desired host state or detects that it is already there.
package actions
