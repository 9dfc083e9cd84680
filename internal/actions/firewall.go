package actions

import (
	"context"
	"slices"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/stage"
)

// Firewall configures ufw to deny inbound traffic except SSH and the
// configured ports. SSH is always allowed so the host stays reachable.
type Firewall struct{}

// Execute implements stage.Action.
func (a *Firewall) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer

	if _, err := env.Host.LookPath("ufw"); err != nil {
		return stage.Failedf("ufw not installed: %v", err)
	}

	steps := [][]string{
		{"default", "deny", "incoming"},
		{"default", "allow", "outgoing"},
	}
	for _, rule := range allowedPorts(env.Config) {
		steps = append(steps, []string{"allow", rule})
	}
	steps = append(steps, []string{"--force", "enable"})

	for _, args := range steps {
		if _, err := env.Host.Run(ctx, "ufw", args...); err != nil {
			return stage.Failedf("ufw %v: %v", args, err)
		}
	}
	obs.Printf("[%s] Firewall enabled, allowed: %v", StageFirewall, allowedPorts(env.Config))
	return stage.Succeeded()
}

// allowedPorts returns the SSH port followed by the configured rules,
// without duplicates.
func allowedPorts(cfg *config.Config) []string {
	rules := []string{config.SSHPort}
	for _, r := range cfg.FirewallAllowedPorts {
		if r == "22" {
			r = config.SSHPort
		}
		if !slices.Contains(rules, r) {
			rules = append(rules, r)
		}
	}
	return rules
}
