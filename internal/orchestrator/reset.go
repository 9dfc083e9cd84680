package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/observability"
)

// Reset wipes the deployment state, disarms the boot trigger and removes
// the lock. It breaks a stale lock but refuses while a live invocation
// holds it. Reset is idempotent.
func (o *Orchestrator) Reset(ctx context.Context) error {
	ok, holder, err := o.lock.TryAcquire()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeploymentActive, describeHolder(holder))
	}

	if err := o.store.Reset(); err != nil {
		_ = o.lock.Release()
		return err
	}
	if err := o.trigger.Disarm(ctx); err != nil {
		o.env.Observer.Printf("failed to disarm boot-time resume: %v", err)
	}
	if err := o.lock.ForceRelease(); err != nil {
		return fmt.Errorf("failed to remove deployment lock: %w", err)
	}

	o.env.Observer.Event(observability.Event{
		Type:    observability.EventLockReleased,
		Message: "deployment state reset",
	})
	return nil
}

func describeHolder(h *lock.Owner) string {
	if h == nil {
		return "lock held by another process"
	}
	return fmt.Sprintf("held by pid %d on %s (run %s) since %s",
		h.PID, h.Hostname, h.RunID, h.AcquiredAt.Format(time.RFC3339))
}
