package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/observability"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/state"
	"github.com/imamik/gpuprep/internal/util/netutil"
)

// Mode selects how an invocation treats a pending reboot flag.
type Mode int

const (
	// ModeRun is a fresh or continuing operator invocation.
	ModeRun Mode = iota
	// ModeResume is the boot-time re-entry after a requested reboot.
	ModeResume
)

func (m Mode) String() string {
	if m == ModeResume {
		return "resume"
	}
	return "run"
}

// Outcome is the terminal state of one invocation.
type Outcome int

const (
	// OutcomeCompleted means every stage is completed and no reboot is pending.
	OutcomeCompleted Outcome = iota
	// OutcomeFailed means a stage, its validation or a precondition failed.
	OutcomeFailed
	// OutcomeAwaitingReboot means the host must restart and resume.
	OutcomeAwaitingReboot
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeAwaitingReboot:
		return "awaiting-reboot"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Locker is the cross-invocation mutual exclusion the orchestrator needs.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	TryAcquire() (bool, *lock.Owner, error)
	Release() error
	ForceRelease() error
	Holder() (*lock.Owner, error)
	IsStale(owner *lock.Owner) bool
	RunID() string
}

// BootTrigger re-invokes the binary in resume mode after the next boot.
type BootTrigger interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Armed() bool
}

// Reporter receives the final report of every invocation that reached a
// terminal outcome. Failures are logged and never change the outcome.
type Reporter interface {
	Report(ctx context.Context, report *Report) error
}

// Report summarizes one invocation.
type Report struct {
	Mode     Mode
	Outcome  Outcome
	Stage    string
	Executed []string
	Duration map[string]time.Duration
	State    *state.DeploymentState
	Err      error
}

// Deps wires an Orchestrator. Registry, Store, Lock and Env are required.
type Deps struct {
	Registry  *stage.Registry
	Store     *state.Store
	Lock      Locker
	Env       *stage.Env
	Timeouts  *config.Timeouts
	Trigger   BootTrigger
	Rebooter  Rebooter
	Countdown Countdown
	Reporters []Reporter

	// SystemInfo and WaitForNetwork default to the host implementations.
	SystemInfo     func() state.SystemInfo
	WaitForNetwork func(ctx context.Context, hosts []string, timeout, interval time.Duration) error
}

// Orchestrator drives the stage registry against the deployment state.
type Orchestrator struct {
	registry  *stage.Registry
	store     *state.Store
	lock      Locker
	env       *stage.Env
	timeouts  *config.Timeouts
	trigger   BootTrigger
	rebooter  Rebooter
	countdown Countdown
	reporters []Reporter

	systemInfo     func() state.SystemInfo
	waitForNetwork func(ctx context.Context, hosts []string, timeout, interval time.Duration) error
	now            func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: state store is required")
	case deps.Lock == nil:
		return nil, errors.New("orchestrator: lock is required")
	case deps.Env == nil || deps.Env.Config == nil || deps.Env.Observer == nil:
		return nil, errors.New("orchestrator: env with config and observer is required")
	}

	o := &Orchestrator{
		registry:       deps.Registry,
		store:          deps.Store,
		lock:           deps.Lock,
		env:            deps.Env,
		timeouts:       deps.Timeouts,
		trigger:        deps.Trigger,
		rebooter:       deps.Rebooter,
		countdown:      deps.Countdown,
		reporters:      deps.Reporters,
		systemInfo:     deps.SystemInfo,
		waitForNetwork: deps.WaitForNetwork,
		now:            time.Now,
	}
	if o.timeouts == nil {
		o.timeouts = config.LoadTimeouts()
	}
	if o.trigger == nil {
		o.trigger = noopTrigger{}
	}
	if o.countdown == nil {
		o.countdown = TimerCountdown(deps.Env.Observer)
	}
	if o.systemInfo == nil {
		o.systemInfo = state.CollectSystemInfo
	}
	if o.waitForNetwork == nil {
		o.waitForNetwork = netutil.WaitForNetwork
	}
	return o, nil
}

// Registry returns the stage registry.
func (o *Orchestrator) Registry() *stage.Registry {
	return o.registry
}

// run carries the per-invocation bookkeeping.
type run struct {
	mode     Mode
	env      *stage.Env
	obs      observability.Observer
	executed []string
	duration map[string]time.Duration
}

// Run executes the pipeline once. A nil error means every stage is
// completed and no reboot is pending. The returned report is non-nil
// whenever the lock was acquired and the state document could be read.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (*Report, error) {
	if err := o.lock.Acquire(ctx, o.timeouts.LockWait); err != nil {
		return nil, err
	}

	obs := o.env.Observer.WithFields(map[string]string{"run": o.lock.RunID()})
	r := &run{
		mode:     mode,
		env:      &stage.Env{Config: o.env.Config, Observer: obs, Host: o.env.Host, Timeouts: o.timeouts},
		obs:      obs,
		duration: map[string]time.Duration{},
	}
	obs.Event(observability.Event{
		Type:    observability.EventLockAcquired,
		Message: "deployment lock acquired",
		Fields:  map[string]string{"mode": mode.String()},
	})

	defer func() {
		if err := o.lock.Release(); err != nil {
			obs.Printf("failed to release deployment lock: %v", err)
			return
		}
		obs.Event(observability.Event{Type: observability.EventLockReleased, Message: "deployment lock released"})
	}()

	if _, err := o.store.Initialize(); err != nil {
		return nil, err
	}

	report, err := o.execute(ctx, r)
	if report != nil {
		report.Err = err
		o.publish(ctx, r, report)
	}
	return report, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*Report, error) {
	if _, err := o.store.UpdateSystemInfo(o.systemInfo()); err != nil {
		return nil, err
	}
	st, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	if st.RebootRequired {
		if r.mode != ModeResume {
			return o.report(r, OutcomeAwaitingReboot, st.RebootStage), &RebootPendingError{
				Stage:  st.RebootStage,
				Reason: "reboot the host or run with --resume",
			}
		}
		if err := o.resumeAfterReboot(ctx, r, st.RebootStage); err != nil {
			return o.report(r, OutcomeFailed, st.RebootStage), err
		}
	}

	st, err = o.store.Load()
	if err != nil {
		return nil, err
	}
	start, pending := st.ResumeIndex()
	if !pending {
		return o.finish(ctx, r)
	}

	total := o.registry.Len()
	r.obs.Event(observability.Event{
		Type:    observability.EventPipelineStarted,
		Message: fmt.Sprintf("resuming at stage %d/%d", start+1, total),
		Fields:  map[string]string{"mode": r.mode.String(), "stage": o.registry.At(start).ID},
	})

	if hosts := o.env.Config.NetworkCheckHosts; len(hosts) > 0 {
		if err := o.waitForNetwork(ctx, hosts, o.timeouts.NetworkWait, o.timeouts.NetworkPoll); err != nil {
			err = fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
			r.obs.Event(observability.Event{Type: observability.EventPipelineHalted, Message: err.Error()})
			return o.report(r, OutcomeFailed, ""), err
		}
	}

	for i := start; i < total; i++ {
		desc := o.registry.At(i)
		if rec := st.Stage(desc.ID); rec != nil && rec.Status == state.StatusCompleted {
			observability.LogStageSkipped(r.obs, desc.ID)
			continue
		}

		// A stage that finished despite an interrupt is committed; nothing
		// after it starts.
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.obs.Event(observability.Event{
				Type:    observability.EventPipelineHalted,
				Stage:   desc.ID,
				Message: "interrupted before start: " + ctxErr.Error(),
			})
			return o.report(r, OutcomeFailed, desc.ID), fmt.Errorf("interrupted before stage %s: %w", desc.ID, ctxErr)
		}

		report, halt, err := o.runStage(ctx, r, desc)
		if halt {
			return report, err
		}
		r.obs.Progress(desc.ID, i+1, total)
	}

	return o.finish(ctx, r)
}

// runStage executes one stage and reports whether the pipeline must halt.
func (o *Orchestrator) runStage(ctx context.Context, r *run, desc stage.Descriptor) (*Report, bool, error) {
	st, err := o.store.SetStageStatus(desc.ID, state.StatusRunning, "")
	if err != nil {
		return nil, true, err
	}
	observability.LogStageStarted(r.obs, desc.ID, st.Stage(desc.ID).Attempts)

	started := o.now()
	res := invoke(ctx, desc.Action, r.env)
	elapsed := o.now().Sub(started)
	r.executed = append(r.executed, desc.ID)
	r.duration[desc.ID] = elapsed

	// An interrupted stage stays running and is the resume point next time.
	if ctxErr := ctx.Err(); ctxErr != nil && res.Outcome == stage.Failure {
		r.obs.Event(observability.Event{
			Type:    observability.EventPipelineHalted,
			Stage:   desc.ID,
			Message: "interrupted: " + ctxErr.Error(),
		})
		return o.report(r, OutcomeFailed, desc.ID), true, fmt.Errorf("stage %s interrupted: %w", desc.ID, ctxErr)
	}

	switch res.Outcome {
	case stage.Success:
		if _, err := o.store.SetStageStatus(desc.ID, state.StatusCompleted, ""); err != nil {
			return nil, true, err
		}
		observability.LogStageCompleted(r.obs, desc.ID, elapsed)
		return nil, false, nil

	case stage.SuccessRebootRequired:
		if _, err := o.store.CompleteWithReboot(desc.ID); err != nil {
			return nil, true, err
		}
		observability.LogStageRebootRequested(r.obs, desc.ID, res.Message)
		report := o.report(r, OutcomeAwaitingReboot, desc.ID)
		return report, true, o.reboot(ctx, r, desc.ID, res.Message)

	default:
		msg := res.Message
		if msg == "" {
			msg = "stage failed"
		}
		if _, err := o.store.SetStageStatus(desc.ID, state.StatusFailed, msg); err != nil {
			return nil, true, err
		}
		observability.LogStageFailed(r.obs, desc.ID, msg)
		r.obs.Event(observability.Event{
			Type:    observability.EventPipelineHalted,
			Stage:   desc.ID,
			Message: "fix the cause and run gpuprep again",
		})
		return o.report(r, OutcomeFailed, desc.ID), true, &StageFailure{Stage: desc.ID, Message: msg}
	}
}

// resumeAfterReboot clears the reboot flag and validates the stage that
// requested it.
func (o *Orchestrator) resumeAfterReboot(ctx context.Context, r *run, stageID string) error {
	if _, err := o.store.ClearRebootRequired(); err != nil {
		return err
	}
	// The trigger is armed only while a reboot is pending.
	if err := o.trigger.Disarm(ctx); err != nil {
		r.obs.Printf("failed to disarm boot-time resume: %v", err)
	}
	desc, ok := o.registry.Lookup(stageID)
	if !ok {
		return fmt.Errorf("%w: reboot stage %q", state.ErrUnknownStage, stageID)
	}
	r.obs.Printf("Resuming after reboot requested by %s (stage %d/%d)",
		stageID, o.registry.Index(stageID)+1, o.registry.Len())
	validator, ok := desc.Action.(stage.Validator)
	if !ok {
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, o.timeouts.PostRebootValidation)
	defer cancel()

	if err := validate(vctx, validator, r.env); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %v: %w", o.timeouts.PostRebootValidation, err)
		}
		msg := "post-reboot validation failed: " + err.Error()
		if _, serr := o.store.SetStageStatus(stageID, state.StatusFailed, msg); serr != nil {
			return serr
		}
		r.obs.Event(observability.Event{
			Type:    observability.EventValidationFailed,
			Stage:   stageID,
			Message: err.Error(),
		})
		return &ValidationFailure{Stage: stageID, Err: err}
	}

	r.obs.Event(observability.Event{
		Type:    observability.EventValidationPassed,
		Stage:   stageID,
		Message: "post-reboot validation passed",
	})
	if _, err := o.store.UpdateSystemInfo(o.systemInfo()); err != nil {
		return err
	}
	return nil
}

// reboot arms the boot trigger and restarts the host unless automatic
// reboots are disabled or the countdown is cancelled. It returns a
// RebootPendingError unless arming or the reboot command fails.
func (o *Orchestrator) reboot(ctx context.Context, r *run, stageID, reason string) error {
	if reason == "" {
		reason = "stage requested a reboot"
	}
	if err := o.trigger.Arm(ctx); err != nil {
		return fmt.Errorf("failed to arm boot-time resume, reboot and run with --resume manually: %w", err)
	}

	pending := &RebootPendingError{Stage: stageID, Reason: reason}

	if !o.env.Config.AutoReboot || o.rebooter == nil {
		r.obs.Printf("Automatic reboot disabled; reboot the host to continue")
		return pending
	}

	delay := o.env.Config.RebootDelay
	r.obs.Event(observability.Event{
		Type:    observability.EventRebootScheduled,
		Stage:   stageID,
		Message: fmt.Sprintf("rebooting in %v", delay),
		Fields:  map[string]string{"delay_seconds": strconv.Itoa(int(delay.Seconds()))},
	})

	if err := o.countdown(ctx, delay); err != nil {
		r.obs.Event(observability.Event{
			Type:    observability.EventRebootCancelled,
			Stage:   stageID,
			Message: "reboot cancelled; reboot the host manually to continue",
		})
		return pending
	}

	if err := o.rebooter.Reboot(ctx); err != nil {
		return fmt.Errorf("failed to reboot host, the resume trigger is armed so reboot manually: %w", err)
	}
	return pending
}

func (o *Orchestrator) finish(ctx context.Context, r *run) (*Report, error) {
	if _, err := o.store.UpdateSystemInfo(o.systemInfo()); err != nil {
		return nil, err
	}
	if err := o.trigger.Disarm(ctx); err != nil {
		r.obs.Printf("failed to disarm boot-time resume: %v", err)
	}
	r.obs.Event(observability.Event{
		Type:    observability.EventPipelineCompleted,
		Message: fmt.Sprintf("all %d stages completed", o.registry.Len()),
	})
	return o.report(r, OutcomeCompleted, ""), nil
}

func (o *Orchestrator) report(r *run, outcome Outcome, stageID string) *Report {
	return &Report{
		Mode:     r.mode,
		Outcome:  outcome,
		Stage:    stageID,
		Executed: r.executed,
		Duration: r.duration,
	}
}

func (o *Orchestrator) publish(ctx context.Context, r *run, report *Report) {
	if st, err := o.store.Load(); err == nil {
		report.State = st
	}
	for _, rep := range o.reporters {
		if err := rep.Report(ctx, report); err != nil {
			r.obs.Printf("reporting %s outcome failed: %v", report.Outcome, err)
		}
	}
}

// invoke runs an action, turning a panic into a Failure.
func invoke(ctx context.Context, action stage.Action, env *stage.Env) (res stage.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = stage.Failedf("panic: %v", p)
		}
	}()
	return action.Execute(ctx, env)
}

func validate(ctx context.Context, v stage.Validator, env *stage.Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return v.ValidateAfterReboot(ctx, env)
}

type noopTrigger struct{}

func (noopTrigger) Arm(context.Context) error    { return nil }
func (noopTrigger) Disarm(context.Context) error { return nil }
func (noopTrigger) Armed() bool                  { return false }
