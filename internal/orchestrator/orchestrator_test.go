package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/observability"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/state"
	testutil "github.com/imamik/gpuprep/internal/testing"
)

func TestNew_RequiresDeps(t *testing.T) {
	h := newHarness(t, 1)
	env := &stage.Env{Config: h.cfg, Observer: h.obs}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no registry", Deps{Store: h.store, Lock: h.newLock(), Env: env}},
		{"no store", Deps{Registry: h.registry, Lock: h.newLock(), Env: env}},
		{"no lock", Deps{Registry: h.registry, Store: h.store, Env: env}},
		{"no env", Deps{Registry: h.registry, Store: h.store, Lock: h.newLock()}},
		{"no observer", Deps{Registry: h.registry, Store: h.store, Lock: h.newLock(), Env: &stage.Env{Config: h.cfg}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.deps)
			assert.Error(t, err)
		})
	}
}

func TestRun_FreshDeploymentCompletes(t *testing.T) {
	h := newHarness(t, 3)

	report, err := h.run(ModeRun)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"stage-1", "stage-2", "stage-3"}, report.Executed)

	st := h.load()
	assert.True(t, st.Complete())
	assert.Empty(t, st.CurrentStage)
	assert.Empty(t, st.Errors)
	assert.Equal(t, "gpu-test", st.SystemInfo.Hostname)
	for i := 1; i <= 3; i++ {
		assert.Equal(t, state.StatusCompleted, h.status(i))
		assert.Equal(t, 1, h.attempts(i))
		assert.Equal(t, 1, h.action(i).Calls())
	}

	h.trigger.AssertCalled(t, "Disarm", mock.Anything)
	h.trigger.AssertNotCalled(t, "Arm", mock.Anything)

	assert.True(t, h.obs.HasEvent(observability.EventPipelineCompleted, ""))
	assert.True(t, h.obs.HasEvent(observability.EventLockReleased, ""))

	// Lock is released on exit
	holder, err := h.newLock().Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestRun_AlreadyCompleteRunsNothing(t *testing.T) {
	h := newHarness(t, 2)

	_, err := h.run(ModeRun)
	require.NoError(t, err)

	report, err := h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Empty(t, report.Executed)
	assert.Equal(t, 1, h.action(1).Calls())
	assert.Equal(t, 1, h.action(2).Calls())
}

func TestRun_StageFailureHaltsAndRerunRetriesOnlyThatStage(t *testing.T) {
	h := newHarness(t, 6)
	h.action(3).SetResults(stage.Failed("disk full"))

	report, err := h.run(ModeRun)
	require.Error(t, err)

	var sf *StageFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "stage-3", sf.Stage)
	assert.Equal(t, "disk full", sf.Message)
	assert.True(t, IsStageFailure(err))
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, "stage-3", report.Stage)

	st := h.load()
	assert.Equal(t, state.StatusCompleted, h.status(1))
	assert.Equal(t, state.StatusCompleted, h.status(2))
	assert.Equal(t, state.StatusFailed, h.status(3))
	for i := 4; i <= 6; i++ {
		assert.Equal(t, state.StatusPending, h.status(i))
		assert.Equal(t, 0, h.action(i).Calls())
	}
	assert.Empty(t, st.CurrentStage)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "stage-3", st.Errors[0].Stage)
	assert.Equal(t, "disk full", st.Errors[0].Message)

	// Operator fixes the disk and re-runs
	h.action(3).SetResults(stage.Succeeded())
	_, err = h.run(ModeRun)
	require.NoError(t, err)

	assert.Equal(t, 2, h.attempts(3))
	assert.Equal(t, 1, h.action(1).Calls())
	assert.Equal(t, 1, h.action(2).Calls())
	assert.Equal(t, 2, h.action(3).Calls())
	for i := 4; i <= 6; i++ {
		assert.Equal(t, 1, h.attempts(i))
	}
	assert.True(t, h.load().Complete())
	assert.Len(t, h.load().Errors, 1, "errors are history, not cleared on success")
}

func TestRun_EmptyFailureMessage(t *testing.T) {
	h := newHarness(t, 1)
	h.action(1).SetResults(stage.Failed(""))

	_, err := h.run(ModeRun)
	require.Error(t, err)
	st := h.load()
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "stage failed", st.Errors[0].Message)
}

func TestRun_PanickingActionFails(t *testing.T) {
	h := newHarness(t, 2)
	h.action(1).OnExecute = func(context.Context, *stage.Env) { panic("nil map") }

	_, err := h.run(ModeRun)
	require.Error(t, err)
	assert.True(t, IsStageFailure(err))
	assert.Contains(t, err.Error(), "panic: nil map")
	assert.Equal(t, state.StatusFailed, h.status(1))
	assert.Equal(t, state.StatusPending, h.status(2))
}

func TestRun_RebootFlow(t *testing.T) {
	h := newHarness(t, 3)
	h.action(2).SetResults(stage.RebootRequired("kernel module not loaded"))

	report, err := h.run(ModeRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAwaitingReboot)
	assert.Equal(t, OutcomeAwaitingReboot, report.Outcome)
	assert.Equal(t, "stage-2", report.Stage)

	var pending *RebootPendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, "stage-2", pending.Stage)
	assert.Equal(t, "kernel module not loaded", pending.Reason)

	st := h.load()
	assert.True(t, st.RebootRequired)
	assert.Equal(t, "stage-2", st.RebootStage)
	assert.Equal(t, state.StatusCompleted, h.status(2))
	assert.Equal(t, state.StatusPending, h.status(3))
	assert.Equal(t, 0, h.action(3).Calls())
	h.trigger.AssertCalled(t, "Arm", mock.Anything)
	h.rebooter.AssertNotCalled(t, "Reboot", mock.Anything)

	// Boot-time resume
	report, err = h.run(ModeResume)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"stage-3"}, report.Executed)

	assert.Equal(t, 1, h.action(2).Calls(), "rebooted stage is not re-run")
	assert.Equal(t, 1, h.action(2).Validations())
	assert.Equal(t, 1, h.action(3).Calls())

	st = h.load()
	assert.False(t, st.RebootRequired)
	assert.Empty(t, st.RebootStage)
	assert.True(t, st.Complete())
	assert.True(t, h.obs.HasEvent(observability.EventValidationPassed, "stage-2"))
}

func TestRun_RebootPendingInRunModeDoesNotProceed(t *testing.T) {
	h := newHarness(t, 3)
	h.action(1).SetResults(stage.RebootRequired(""))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	report, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)
	assert.Equal(t, OutcomeAwaitingReboot, report.Outcome)
	assert.Contains(t, err.Error(), "--resume")
	assert.Empty(t, report.Executed)

	st := h.load()
	assert.True(t, st.RebootRequired, "flag is kept until a resume")
	assert.Equal(t, 0, h.action(1).Validations())
	assert.Equal(t, 0, h.action(2).Calls())
}

func TestRun_RebootOnLastStageIsNotSuccess(t *testing.T) {
	h := newHarness(t, 2)
	h.action(2).SetResults(stage.RebootRequired("driver"))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	st := h.load()
	_, pending := st.ResumeIndex()
	assert.False(t, pending, "all stages completed")
	assert.False(t, st.Complete(), "but a reboot is pending")

	report, err := h.run(ModeResume)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Empty(t, report.Executed)
	assert.True(t, h.load().Complete())
}

func TestRun_AutoRebootAfterCountdown(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.AutoReboot = true
	h.cfg.RebootDelay = time.Second
	var gotDelay time.Duration
	h.countdown = func(_ context.Context, d time.Duration) error {
		gotDelay = d
		return nil
	}
	h.rebooter.On("Reboot", mock.Anything).Return(nil).Once()
	h.action(1).SetResults(stage.RebootRequired("driver installed"))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	assert.Equal(t, time.Second, gotDelay)
	h.rebooter.AssertExpectations(t)
	h.trigger.AssertCalled(t, "Arm", mock.Anything)
	assert.True(t, h.obs.HasEvent(observability.EventRebootScheduled, "stage-1"))
}

func TestRun_CancelledCountdownSkipsReboot(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.AutoReboot = true
	h.countdown = func(context.Context, time.Duration) error { return context.Canceled }
	h.action(1).SetResults(stage.RebootRequired(""))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	h.rebooter.AssertNotCalled(t, "Reboot", mock.Anything)
	assert.True(t, h.obs.HasEvent(observability.EventRebootCancelled, "stage-1"))
	assert.True(t, h.load().RebootRequired)
}

func TestRun_RebootCommandFails(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.AutoReboot = true
	h.countdown = func(context.Context, time.Duration) error { return nil }
	h.rebooter.On("Reboot", mock.Anything).Return(errors.New("systemctl: access denied"))
	h.action(1).SetResults(stage.RebootRequired(""))

	_, err := h.run(ModeRun)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAwaitingReboot)
	assert.Contains(t, err.Error(), "failed to reboot host")
	assert.True(t, h.load().RebootRequired)
}

func TestRun_ArmFailureDoesNotReboot(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.AutoReboot = true
	h.trigger = &testutil.MockTrigger{}
	h.trigger.On("Arm", mock.Anything).Return(errors.New("read-only /etc"))
	h.action(1).SetResults(stage.RebootRequired(""))

	_, err := h.run(ModeRun)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to arm boot-time resume")
	h.rebooter.AssertNotCalled(t, "Reboot", mock.Anything)
}

func TestRun_ValidationFailureMarksStageFailed(t *testing.T) {
	h := newHarness(t, 3)
	h.action(2).SetResults(stage.RebootRequired(""))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	h.action(2).ValidateErr = errors.New("nvidia-smi: no devices found")
	report, err := h.run(ModeResume)
	require.Error(t, err)

	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, "stage-2", vf.Stage)
	assert.True(t, IsValidationFailure(err))
	assert.Equal(t, OutcomeFailed, report.Outcome)

	st := h.load()
	assert.False(t, st.RebootRequired)
	assert.Equal(t, state.StatusFailed, h.status(2))
	assert.Equal(t, state.StatusPending, h.status(3))
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0].Message, "no devices found")
	assert.Equal(t, 0, h.action(3).Calls())
	assert.True(t, h.obs.HasEvent(observability.EventValidationFailed, "stage-2"))

	// Next run re-executes the failed stage
	h.action(2).SetResults(stage.Succeeded())
	h.action(2).ValidateErr = nil
	_, err = h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, 2, h.attempts(2))
	assert.Equal(t, 2, h.action(2).Calls())
}

func TestRun_ValidationIsBounded(t *testing.T) {
	h := newHarness(t, 2)
	blocking := blockingValidator{ActionFunc: func(context.Context, *stage.Env) stage.Result {
		return stage.RebootRequired("")
	}}
	h.registry = stage.MustNew(
		stage.Descriptor{ID: "stage-1", Action: blocking},
		stage.Descriptor{ID: "stage-2", Action: h.action(2)},
	)

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	start := time.Now()
	_, err = h.run(ModeResume)
	require.Error(t, err)
	assert.True(t, IsValidationFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, state.StatusFailed, h.status(1))
}

func TestRun_ResumeWithoutRebootFlagContinues(t *testing.T) {
	h := newHarness(t, 3)
	h.action(2).SetResults(stage.Failed("apt lock held"))
	_, err := h.run(ModeRun)
	require.Error(t, err)

	h.action(2).SetResults(stage.Succeeded())
	_, err = h.run(ModeResume)
	require.NoError(t, err)
	assert.Equal(t, 0, h.action(2).Validations())
	assert.True(t, h.load().Complete())
}

func TestRun_InterruptedStageStaysRunning(t *testing.T) {
	h := newHarness(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	h.action(3).OnExecute = func(context.Context, *stage.Env) { cancel() }
	h.action(3).SetResults(stage.Failed("signal: killed"))

	report, err := h.orchestrator().Run(ctx, ModeRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsStageFailure(err))
	assert.Equal(t, OutcomeFailed, report.Outcome)

	st := h.load()
	assert.Equal(t, state.StatusRunning, h.status(3))
	assert.Equal(t, "stage-3", st.CurrentStage)
	assert.Empty(t, st.Errors)

	// Lock was released despite the cancellation
	holder, err := h.newLock().Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)

	// Next invocation re-invokes exactly stage 3
	h.action(3).OnExecute = nil
	h.action(3).SetResults(stage.Succeeded())
	report, err = h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-3", "stage-4"}, report.Executed)
	assert.Equal(t, 1, h.action(1).Calls())
	assert.Equal(t, 1, h.action(2).Calls())
	assert.Equal(t, 2, h.attempts(3))
}

func TestRun_InterruptAfterSuccessfulStageStopsPipeline(t *testing.T) {
	h := newHarness(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.action(2).OnExecute = func(context.Context, *stage.Env) { cancel() }

	report, err := h.orchestrator().Run(ctx, ModeRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsStageFailure(err))
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, "stage-3", report.Stage)
	assert.Equal(t, []string{"stage-1", "stage-2"}, report.Executed)

	st := h.load()
	assert.Equal(t, state.StatusCompleted, h.status(2))
	assert.Equal(t, state.StatusPending, h.status(3))
	assert.Equal(t, 0, h.attempts(3))
	assert.Empty(t, st.CurrentStage)
	assert.Equal(t, 0, h.action(3).Calls())
	assert.Equal(t, 0, h.action(4).Calls())

	holder, err := h.newLock().Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)

	report, err = h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-3", "stage-4"}, report.Executed)
}

func TestRun_ResumeDisarmsTriggerBeforeLaterFailure(t *testing.T) {
	h := newHarness(t, 4)
	h.action(2).SetResults(stage.RebootRequired("driver"))

	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)
	h.trigger.AssertNumberOfCalls(t, "Arm", 1)
	h.trigger.AssertNumberOfCalls(t, "Disarm", 0)

	h.action(3).SetResults(stage.Failed("docker unreachable"))
	_, err = h.run(ModeResume)
	require.Error(t, err)
	assert.True(t, IsStageFailure(err))

	assert.False(t, h.load().RebootRequired)
	h.trigger.AssertNumberOfCalls(t, "Disarm", 1)
	assert.Contains(t, h.obs.Messages(), "Resuming after reboot requested by stage-2 (stage 2/4)")
}

func TestRun_ValidationFailureDisarmsTrigger(t *testing.T) {
	h := newHarness(t, 2)
	h.action(1).SetResults(stage.RebootRequired(""))
	_, err := h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	h.action(1).ValidateErr = errors.New("module missing")
	_, err = h.run(ModeResume)
	require.True(t, IsValidationFailure(err))
	h.trigger.AssertNumberOfCalls(t, "Disarm", 1)
}

func TestRun_ActionsReceiveTimeouts(t *testing.T) {
	h := newHarness(t, 1)
	var got *config.Timeouts
	h.action(1).OnExecute = func(_ context.Context, env *stage.Env) { got = env.Timeouts }

	_, err := h.run(ModeRun)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100*time.Millisecond, got.LockWait)
}

func TestRun_ResumesAfterCrashMidStage(t *testing.T) {
	h := newHarness(t, 4)
	_, err := h.store.Initialize()
	require.NoError(t, err)
	for _, id := range []string{"stage-1", "stage-2"} {
		_, err = h.store.SetStageStatus(id, state.StatusRunning, "")
		require.NoError(t, err)
		_, err = h.store.SetStageStatus(id, state.StatusCompleted, "")
		require.NoError(t, err)
	}
	// Process died while stage 3 was running
	_, err = h.store.SetStageStatus("stage-3", state.StatusRunning, "")
	require.NoError(t, err)

	report, err := h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-3", "stage-4"}, report.Executed)
	assert.Equal(t, 0, h.action(1).Calls())
	assert.Equal(t, 0, h.action(2).Calls())
	assert.Equal(t, 2, h.attempts(3))
}

func TestRun_SkipsLaterCompletedStages(t *testing.T) {
	h := newHarness(t, 3)
	_, err := h.store.Initialize()
	require.NoError(t, err)
	_, err = h.store.SetStageStatus("stage-3", state.StatusRunning, "")
	require.NoError(t, err)
	_, err = h.store.SetStageStatus("stage-3", state.StatusCompleted, "")
	require.NoError(t, err)

	report, err := h.run(ModeRun)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage-1", "stage-2"}, report.Executed)
	assert.Equal(t, 0, h.action(3).Calls())
	assert.True(t, h.obs.HasEvent(observability.EventStageSkipped, "stage-3"))
}

func TestRun_LockTimeout(t *testing.T) {
	h := newHarness(t, 2)
	other := lock.New(h.lockDir, lock.WithRunID("other-run"))
	require.NoError(t, other.Acquire(context.Background(), time.Second))
	defer func() { _ = other.Release() }()

	report, err := h.run(ModeRun)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "other-run")

	assert.Equal(t, 0, h.action(1).Calls())
	assert.Empty(t, h.reporter.reports)

	// The state document is only created under the lock
	_, err = h.store.Load()
	assert.ErrorIs(t, err, state.ErrNotFound)

	// The holder's lock is untouched
	holder, err := other.Holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "other-run", holder.RunID)
}

func TestRun_StaleLockFromDeadProcessIsBroken(t *testing.T) {
	h := newHarness(t, 1)
	dead := lock.New(h.lockDir,
		lock.WithPID(1<<22),
		lock.WithRunID("crashed"),
		lock.WithLivenessProbe(func(int) bool { return true }))
	ok, _, err := dead.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.run(ModeRun)
	require.NoError(t, err)
	assert.True(t, h.load().Complete())
}

func TestRun_NetworkUnavailable(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.NetworkCheckHosts = []string{"archive.ubuntu.com:80"}
	var gotHosts []string
	h.network = func(_ context.Context, hosts []string, timeout, _ time.Duration) error {
		gotHosts = hosts
		return errors.New("dial tcp: no route to host")
	}

	report, err := h.run(ModeRun)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, []string{"archive.ubuntu.com:80"}, gotHosts)

	st := h.load()
	assert.Equal(t, state.StatusPending, h.status(1))
	assert.Equal(t, 0, h.attempts(1))
	assert.Empty(t, st.Errors)
}

func TestRun_NetworkCheckSkippedWhenComplete(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.run(ModeRun)
	require.NoError(t, err)

	h.cfg.NetworkCheckHosts = []string{"archive.ubuntu.com:80"}
	h.network = func(context.Context, []string, time.Duration, time.Duration) error {
		t.Fatal("network wait on a completed deployment")
		return nil
	}
	_, err = h.run(ModeRun)
	require.NoError(t, err)
}

func TestRun_ReportersReceiveOutcome(t *testing.T) {
	h := newHarness(t, 2)
	h.reporter.err = errors.New("bucket unreachable")
	h.action(2).SetResults(stage.Failed("boom"))

	_, err := h.run(ModeRun)
	require.True(t, IsStageFailure(err), "reporter failure does not change the outcome")

	rep := h.reporter.last()
	require.NotNil(t, rep)
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.Equal(t, "stage-2", rep.Stage)
	require.NotNil(t, rep.State)
	assert.Equal(t, state.StatusFailed, rep.State.Stage("stage-2").Status)
	assert.ErrorIs(t, rep.Err, err)
	assert.Contains(t, rep.Duration, "stage-1")

	found := false
	for _, m := range h.obs.Messages() {
		if m == "reporting failed outcome failed: bucket unreachable" {
			found = true
		}
	}
	assert.True(t, found, h.obs.Messages())
}

func TestRun_EventsCarryRunID(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.run(ModeRun)
	require.NoError(t, err)

	for _, e := range h.obs.Events() {
		assert.NotEmpty(t, e.Fields["run"], e.Type)
	}
}

func TestRun_RegistryMismatchIsStorageError(t *testing.T) {
	h := newHarness(t, 2)
	_, err := h.run(ModeRun)
	require.NoError(t, err)

	h.registry = stage.MustNew(
		stage.Descriptor{ID: "stage-1", Action: h.action(1)},
		stage.Descriptor{ID: "other", Action: h.action(2)},
	)
	h.store = state.NewStore(h.cfg.StateDir, h.registry.IDs())

	_, err = h.run(ModeRun)
	require.Error(t, err)
	assert.True(t, state.IsStorageError(err))
}

func TestRun_CompletedCountIsMonotonic(t *testing.T) {
	outcomes := []stage.Result{
		stage.Succeeded(),
		stage.Succeeded(),
		stage.Failed("transient"),
		stage.RebootRequired("kernel"),
	}
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 5; trial++ {
		h := newHarness(t, 5)
		for _, a := range h.actions {
			script := make([]stage.Result, 4)
			for i := range script {
				script[i] = outcomes[rng.Intn(len(outcomes))]
			}
			script = append(script, stage.Succeeded())
			a.SetResults(script...)
		}

		last := 0
		for inv := 0; inv < 40; inv++ {
			mode := ModeRun
			if st, err := h.store.Load(); err == nil && st.RebootRequired {
				mode = ModeResume
			}
			_, _ = h.run(mode)

			done := h.load().CompletedCount()
			require.GreaterOrEqual(t, done, last, "trial %d invocation %d", trial, inv)
			last = done
			if h.load().Complete() {
				break
			}
		}
		assert.True(t, h.load().Complete(), "trial %d", trial)
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, 3)
	h.action(2).SetResults(stage.Failed("x"))
	_, err := h.run(ModeRun)
	require.Error(t, err)

	o := h.orchestrator()
	require.NoError(t, o.Reset(context.Background()))

	_, err = h.store.Load()
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = os.Stat(h.lockDir)
	assert.True(t, os.IsNotExist(err))
	h.trigger.AssertCalled(t, "Disarm", mock.Anything)

	// Idempotent
	require.NoError(t, o.Reset(context.Background()))

	// Fresh initialize after reset matches a brand-new document
	_, err = h.store.Initialize()
	require.NoError(t, err)
	st := h.load()
	assert.Equal(t, 0, st.CompletedCount())
	assert.Empty(t, st.Errors)
	assert.False(t, st.RebootRequired)
	for _, e := range st.Stages {
		assert.Equal(t, state.StatusPending, e.Record.Status)
		assert.Zero(t, e.Record.Attempts)
	}
}

func TestReset_RefusesWhileLiveHolder(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.store.Initialize()
	require.NoError(t, err)

	other := lock.New(h.lockDir, lock.WithRunID("live"))
	require.NoError(t, other.Acquire(context.Background(), time.Second))
	defer func() { _ = other.Release() }()

	err = h.orchestrator().Reset(context.Background())
	require.ErrorIs(t, err, ErrDeploymentActive)
	assert.Contains(t, err.Error(), "live")

	_, err = h.store.Load()
	assert.NoError(t, err, "state is untouched")
}

func TestReset_BreaksStaleLock(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.run(ModeRun)
	require.NoError(t, err)

	stale := lock.New(h.lockDir, lock.WithPID(1<<22), lock.WithRunID("dead"),
		lock.WithLivenessProbe(func(int) bool { return true }))
	ok, _, err := stale.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.orchestrator().Reset(context.Background()))
	_, err = os.Stat(h.lockDir)
	assert.True(t, os.IsNotExist(err))
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 3)
	h.trigger = &testutil.MockTrigger{}
	h.trigger.On("Arm", mock.Anything).Return(nil).Once()
	h.trigger.On("Armed").Return(true)
	o := h.orchestrator()

	_, err := o.Status()
	require.ErrorIs(t, err, state.ErrNotFound)

	h.action(2).SetResults(stage.RebootRequired("driver"))
	_, err = h.run(ModeRun)
	require.ErrorIs(t, err, ErrAwaitingReboot)

	before, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	rep, err := o.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Completed)
	assert.Equal(t, 3, rep.Total)
	assert.InDelta(t, 2.0/3.0, rep.Progress, 1e-9)
	assert.True(t, rep.RebootRequired)
	assert.Equal(t, "stage-2", rep.RebootStage)
	assert.False(t, rep.Complete)
	assert.Nil(t, rep.Lock)
	assert.True(t, rep.ResumeArmed)
	require.Len(t, rep.Stages, 3)
	assert.Equal(t, "Stage 1", rep.Stages[0].DisplayName)
	assert.Equal(t, state.StatusPending, rep.Stages[2].Status)

	after, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after, "status never mutates state")
}

func TestStatus_ShowsLockHolder(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.store.Initialize()
	require.NoError(t, err)

	other := lock.New(h.lockDir, lock.WithRunID("busy"))
	require.NoError(t, other.Acquire(context.Background(), time.Second))
	defer func() { _ = other.Release() }()

	rep, err := h.orchestrator().Status()
	require.NoError(t, err)
	require.NotNil(t, rep.Lock)
	assert.Equal(t, "busy", rep.Lock.RunID)
	assert.False(t, rep.LockStale)
	assert.False(t, rep.ResumeArmed)
}

func TestModeAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "run", ModeRun.String())
	assert.Equal(t, "resume", ModeResume.String())
	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "awaiting-reboot", OutcomeAwaitingReboot.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestNew_DefaultsTimeouts(t *testing.T) {
	h := newHarness(t, 1)
	o, err := New(Deps{
		Registry: h.registry,
		Store:    h.store,
		Lock:     h.newLock(),
		Env:      &stage.Env{Config: h.cfg, Observer: h.obs},
	})
	require.NoError(t, err)
	assert.Equal(t, config.LoadTimeouts().LockWait, o.timeouts.LockWait)
	assert.Same(t, h.registry, o.Registry())
}
