package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/gpuprep/internal/hostexec"
	"github.com/imamik/gpuprep/internal/observability"
)

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// SystemRebooter reboots through systemd.
type SystemRebooter struct {
	Runner hostexec.Runner
}

// Reboot implements Rebooter.
func (r *SystemRebooter) Reboot(ctx context.Context) error {
	if _, err := r.Runner.Run(ctx, "systemctl", "reboot"); err != nil {
		return fmt.Errorf("systemctl reboot: %w", err)
	}
	return nil
}

// Countdown blocks for delay before a reboot. A non-nil error cancels the
// reboot.
type Countdown func(ctx context.Context, delay time.Duration) error

// TimerCountdown logs the remaining time every ten seconds and returns
// ctx.Err() if ctx is cancelled first.
func TimerCountdown(obs observability.Logger) Countdown {
	return func(ctx context.Context, delay time.Duration) error {
		if delay <= 0 {
			return ctx.Err()
		}
		deadline := time.NewTimer(delay)
		defer deadline.Stop()
		tick := time.NewTicker(10 * time.Second)
		defer tick.Stop()

		end := time.Now().Add(delay)
		obs.Printf("Rebooting in %v (interrupt to cancel)", delay.Round(time.Second))
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline.C:
				return nil
			case <-tick.C:
				obs.Printf("Rebooting in %v", time.Until(end).Round(time.Second))
			}
		}
	}
}
