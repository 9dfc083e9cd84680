package orchestrator_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/state"
	testutil "github.com/imamik/gpuprep/internal/testing"
)

// host simulates one machine: its disk survives "reboots", processes do not.
type host struct {
	cfg      *config.Config
	actions  map[string]*testutil.ScriptedAction
	registry *stage.Registry
	boots    int
	trigger  *fakeTrigger
}

type fakeTrigger struct {
	mu    sync.Mutex
	armed bool
}

func (f *fakeTrigger) Arm(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = true
	return nil
}

func (f *fakeTrigger) Disarm(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
	return nil
}

func (f *fakeTrigger) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

type rebootFunc func(ctx context.Context) error

func (f rebootFunc) Reboot(ctx context.Context) error { return f(ctx) }

var stageIDs = []string{
	"system-update", "base-packages", "nvidia-driver",
	"cuda-toolkit", "docker", "validation",
}

func newHost(dir string) *host {
	h := &host{
		cfg:     testutil.NewConfigBuilder(dir).WithAutoReboot(true).Build(),
		actions: map[string]*testutil.ScriptedAction{},
		trigger: &fakeTrigger{},
	}
	descs := make([]stage.Descriptor, 0, len(stageIDs))
	for _, id := range stageIDs {
		a := testutil.NewScriptedAction()
		h.actions[id] = a
		descs = append(descs, stage.Descriptor{ID: id, Action: a})
	}
	h.registry = stage.MustNew(descs...)
	return h
}

// process builds a fresh orchestrator as a new process would.
func (h *host) process(lockWait time.Duration, runID string) *orchestrator.Orchestrator {
	o, err := orchestrator.New(orchestrator.Deps{
		Registry: h.registry,
		Store:    state.NewStore(h.cfg.StateDir, h.registry.IDs()),
		Lock: lock.New(filepath.Join(h.cfg.StateDir, "lock"),
			lock.WithRunID(runID),
			lock.WithPollInterval(5*time.Millisecond),
			lock.WithBootID(func() string { return fmt.Sprintf("boot-%d", h.boots) })),
		Env: &stage.Env{Config: h.cfg, Observer: testutil.NewRecordingObserver(), Host: testutil.NewFakeHost()},
		Timeouts: &config.Timeouts{
			LockWait:             lockWait,
			LockPoll:             5 * time.Millisecond,
			PostRebootValidation: time.Second,
		},
		Trigger:   h.trigger,
		Countdown: func(context.Context, time.Duration) error { return nil },
		Rebooter: rebootFunc(func(context.Context) error {
			h.boots++
			return nil
		}),
		SystemInfo: func() state.SystemInfo { return state.SystemInfo{Hostname: "gpu-node"} },
	})
	Expect(err).NotTo(HaveOccurred())
	return o
}

func (h *host) load() *state.DeploymentState {
	st, err := state.NewStore(h.cfg.StateDir, h.registry.IDs()).Load()
	Expect(err).NotTo(HaveOccurred())
	return st
}

var _ = Describe("GPU host provisioning", func() {
	var (
		h   *host
		ctx context.Context
	)

	BeforeEach(func() {
		h = newHost(GinkgoT().TempDir())
		ctx = context.Background()
	})

	Context("when the driver stage requires a reboot", func() {
		BeforeEach(func() {
			h.actions["nvidia-driver"].SetResults(stage.RebootRequired("nvidia module not loaded"))
		})

		It("reboots once and resumes at the next stage", func() {
			By("running until the driver asks for a reboot")
			report, err := h.process(time.Second, "first").Run(ctx, orchestrator.ModeRun)
			Expect(err).To(MatchError(orchestrator.ErrAwaitingReboot))
			Expect(report.Executed).To(Equal([]string{"system-update", "base-packages", "nvidia-driver"}))
			Expect(h.boots).To(Equal(1))
			Expect(h.trigger.Armed()).To(BeTrue())

			st := h.load()
			Expect(st.RebootRequired).To(BeTrue())
			Expect(st.RebootStage).To(Equal("nvidia-driver"))
			Expect(st.Stage("nvidia-driver").Status).To(Equal(state.StatusCompleted))

			By("resuming from the boot trigger")
			report, err = h.process(time.Second, "after-boot").Run(ctx, orchestrator.ModeResume)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Outcome).To(Equal(orchestrator.OutcomeCompleted))
			Expect(report.Executed).To(Equal([]string{"cuda-toolkit", "docker", "validation"}))
			Expect(h.actions["nvidia-driver"].Calls()).To(Equal(1))
			Expect(h.actions["nvidia-driver"].Validations()).To(Equal(1))
			Expect(h.trigger.Armed()).To(BeFalse())
			Expect(h.load().Complete()).To(BeTrue())
		})

		It("fails the stage when post-reboot validation fails", func() {
			_, err := h.process(time.Second, "first").Run(ctx, orchestrator.ModeRun)
			Expect(err).To(MatchError(orchestrator.ErrAwaitingReboot))

			h.actions["nvidia-driver"].ValidateErr = fmt.Errorf("NVIDIA-SMI has failed")
			_, err = h.process(time.Second, "after-boot").Run(ctx, orchestrator.ModeResume)
			Expect(orchestrator.IsValidationFailure(err)).To(BeTrue())

			st := h.load()
			Expect(st.RebootRequired).To(BeFalse())
			Expect(st.Stage("nvidia-driver").Status).To(Equal(state.StatusFailed))
			Expect(st.Stage("cuda-toolkit").Status).To(Equal(state.StatusPending))
			Expect(st.Errors).To(HaveLen(1))
		})
	})

	Context("when two invocations race", func() {
		It("lets exactly one of them run", func() {
			release := make(chan struct{})
			started := make(chan struct{})
			h.actions["system-update"].OnExecute = func(context.Context, *stage.Env) {
				close(started)
				<-release
			}

			var wg sync.WaitGroup
			var firstErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, firstErr = h.process(time.Second, "holder").Run(ctx, orchestrator.ModeRun)
			}()
			Eventually(started).Should(BeClosed())

			_, err := h.process(50*time.Millisecond, "contender").Run(ctx, orchestrator.ModeRun)
			Expect(err).To(MatchError(orchestrator.ErrLockTimeout))
			Expect(err.Error()).To(ContainSubstring("holder"))

			close(release)
			wg.Wait()
			Expect(firstErr).NotTo(HaveOccurred())
			Expect(h.actions["system-update"].Calls()).To(Equal(1))
		})
	})

	Context("after a reset", func() {
		It("starts over from a fresh document", func() {
			h.actions["docker"].SetResults(stage.Failed("disk full"))
			_, err := h.process(time.Second, "first").Run(ctx, orchestrator.ModeRun)
			Expect(orchestrator.IsStageFailure(err)).To(BeTrue())

			Expect(h.process(time.Second, "reset").Reset(ctx)).To(Succeed())

			store := state.NewStore(h.cfg.StateDir, h.registry.IDs())
			_, err = store.Load()
			Expect(err).To(MatchError(state.ErrNotFound))

			h.actions["docker"].SetResults(stage.Succeeded())
			_, err = h.process(time.Second, "second").Run(ctx, orchestrator.ModeRun)
			Expect(err).NotTo(HaveOccurred())

			st := h.load()
			Expect(st.Errors).To(BeEmpty())
			for _, id := range stageIDs {
				Expect(st.Stage(id).Attempts).To(Equal(1), id)
			}
		})
	})
})
