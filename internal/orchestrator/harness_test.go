package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/state"
	testutil "github.com/imamik/gpuprep/internal/testing"
)

// harness wires an Orchestrator over a temp state dir with scripted actions.
type harness struct {
	t        *testing.T
	cfg      *config.Config
	actions  []*testutil.ScriptedAction
	registry *stage.Registry
	store    *state.Store
	lockDir  string
	obs      *testutil.RecordingObserver
	host     *testutil.FakeHost
	trigger  *testutil.MockTrigger
	rebooter *testutil.MockRebooter
	reporter *recordingReporter

	countdown Countdown
	network   func(ctx context.Context, hosts []string, timeout, interval time.Duration) error
}

func newHarness(t *testing.T, stages int) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:        t,
		cfg:      testutil.NewConfigBuilder(dir).Build(),
		obs:      testutil.NewRecordingObserver(),
		host:     testutil.NewFakeHost(),
		trigger:  testutil.NewPermissiveTrigger(),
		rebooter: &testutil.MockRebooter{},
		reporter: &recordingReporter{},
		countdown: func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		},
	}

	descs := make([]stage.Descriptor, stages)
	for i := range descs {
		a := testutil.NewScriptedAction()
		h.actions = append(h.actions, a)
		descs[i] = stage.Descriptor{
			ID:          fmt.Sprintf("stage-%d", i+1),
			DisplayName: fmt.Sprintf("Stage %d", i+1),
			Action:      a,
		}
	}
	h.registry = stage.MustNew(descs...)
	h.store = state.NewStore(h.cfg.StateDir, h.registry.IDs())
	h.lockDir = filepath.Join(h.cfg.StateDir, "lock")
	return h
}

// action returns the scripted action of the 1-based stage n.
func (h *harness) action(n int) *testutil.ScriptedAction {
	return h.actions[n-1]
}

func (h *harness) newLock() *lock.Manager {
	return lock.New(h.lockDir, lock.WithPollInterval(10*time.Millisecond))
}

func (h *harness) orchestrator() *Orchestrator {
	h.t.Helper()
	o, err := New(Deps{
		Registry: h.registry,
		Store:    h.store,
		Lock:     h.newLock(),
		Env:      &stage.Env{Config: h.cfg, Observer: h.obs, Host: h.host},
		Timeouts: &config.Timeouts{
			LockWait:             100 * time.Millisecond,
			LockPoll:             10 * time.Millisecond,
			NetworkWait:          100 * time.Millisecond,
			NetworkPoll:          10 * time.Millisecond,
			PostRebootValidation: 100 * time.Millisecond,
		},
		Trigger:        h.trigger,
		Rebooter:       h.rebooter,
		Countdown:      h.countdown,
		Reporters:      []Reporter{h.reporter},
		SystemInfo:     func() state.SystemInfo { return state.SystemInfo{Hostname: "gpu-test"} },
		WaitForNetwork: h.network,
	})
	require.NoError(h.t, err)
	return o
}

func (h *harness) run(mode Mode) (*Report, error) {
	return h.orchestrator().Run(context.Background(), mode)
}

func (h *harness) load() *state.DeploymentState {
	h.t.Helper()
	st, err := h.store.Load()
	require.NoError(h.t, err)
	return st
}

func (h *harness) status(n int) state.Status {
	return h.load().Stage(fmt.Sprintf("stage-%d", n)).Status
}

func (h *harness) attempts(n int) int {
	return h.load().Stage(fmt.Sprintf("stage-%d", n)).Attempts
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []*Report
	err     error
}

func (r *recordingReporter) Report(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.err
}

func (r *recordingReporter) last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return nil
	}
	return r.reports[len(r.reports)-1]
}

// blockingValidator waits for its context to end.
type blockingValidator struct {
	stage.ActionFunc
}

func (blockingValidator) ValidateAfterReboot(ctx context.Context, _ *stage.Env) error {
	<-ctx.Done()
	return ctx.Err()
}
