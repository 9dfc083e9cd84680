package handlers

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/imamik/gpuprep/internal/actions"
	"github.com/imamik/gpuprep/internal/bootsvc"
	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/hostexec"
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/metrics"
	"github.com/imamik/gpuprep/internal/observability"
	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/platform/s3"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/state"
	"github.com/imamik/gpuprep/internal/ui/tui"
	"github.com/imamik/gpuprep/internal/util/prerequisites"
)

// observer is an Observer whose sinks must be closed.
type observer interface {
	observability.Observer
	Close() error
}

// Factory function variables - can be replaced in tests.
var (
	loadConfig = config.Load

	newObserver = func(cfg *config.Config, console bool) (observer, error) {
		return observability.NewHostObserver(observability.HostOptions{
			LogFile: cfg.LogFile,
			Syslog:  cfg.Syslog,
			Console: console,
		})
	}

	newHost = func() hostexec.Host {
		return hostexec.NewLocal()
	}

	newRegistry = actions.DefaultRegistry

	newLock = func(dir string, poll time.Duration) orchestrator.Locker {
		return lock.New(dir, lock.WithPollInterval(poll))
	}

	newRebooter = func(host hostexec.Host) orchestrator.Rebooter {
		return &orchestrator.SystemRebooter{Runner: host}
	}

	newArchiveStore = func(ctx context.Context, cfg *config.Config) (s3.ObjectStore, error) {
		return s3.NewClient(ctx, s3.Options{
			Endpoint:  cfg.ArchiveEndpoint,
			Region:    cfg.ArchiveRegion,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			PathStyle: cfg.ArchivePathStyle,
		})
	}

	lookPath = exec.LookPath
	hostname = os.Hostname

	stdout io.Writer = os.Stdout

	isTerminal = func(f *os.File) bool {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	confirmReset = func(stateDir string) (bool, error) {
		var ok bool
		err := huh.NewConfirm().
			Title("Reset deployment state?").
			Description(fmt.Sprintf("Progress in %s is deleted and the next run starts from the first stage.", stateDir)).
			Affirmative("Reset").
			Negative("Cancel").
			Value(&ok).
			Run()
		return ok, err
	}
)

// session is one wired orchestrator plus the resources it holds open.
type session struct {
	cfg  *config.Config
	obs  observer
	host hostexec.Host
	orch *orchestrator.Orchestrator
}

func (s *session) Close() {
	_ = s.obs.Close()
}

// sessionOptions selects what a command needs.
type sessionOptions struct {
	// prerequisites checks the required host tools before anything runs.
	prerequisites bool
	// console mirrors events to stderr through the standard log package.
	console bool
	// logs opens the log file and syslog sinks.
	logs bool
}

// newSession loads configuration and wires every collaborator.
func newSession(ctx context.Context, configPath string, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if opts.prerequisites {
		if results := prerequisites.CheckDefault(lookPath); results.HasErrors() {
			return nil, &config.ConfigurationError{Field: "prerequisites", Err: results.Error()}
		}
	}

	sinkCfg := *cfg
	if !opts.logs {
		sinkCfg.LogFile = ""
		sinkCfg.Syslog = false
	}
	obs, err := newObserver(&sinkCfg, opts.console)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "log_file", Err: err}
	}

	s, err := wire(ctx, cfg, configPath, obs)
	if err != nil {
		_ = obs.Close()
		return nil, err
	}
	return s, nil
}

func wire(ctx context.Context, cfg *config.Config, configPath string, obs observer) (*session, error) {
	host := newHost()

	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build stage registry: %w", err)
	}

	store := state.NewStore(cfg.StateDir, registry.IDs())

	if configPath == "" {
		configPath = config.DefaultPath
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	trigger := bootsvc.New(host, bootsvc.Options{
		UnitDir:    cfg.UnitDir,
		BinaryPath: cfg.BinaryPath,
		ConfigPath: configPath,
		StatePath:  store.Path(),
	})

	reporters, err := buildReporters(ctx, cfg, obs)
	if err != nil {
		return nil, err
	}

	var countdown orchestrator.Countdown
	if isTerminal(os.Stdout) && isTerminal(os.Stdin) {
		countdown = tui.NewCountdown()
	}

	timeouts := config.LoadTimeouts()
	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:  registry,
		Store:     store,
		Lock:      newLock(filepath.Join(cfg.StateDir, "lock"), timeouts.LockPoll),
		Env:       &stage.Env{Config: cfg, Observer: obs, Host: host, Timeouts: timeouts},
		Timeouts:  timeouts,
		Trigger:   trigger,
		Rebooter:  newRebooter(host),
		Countdown: countdown,
		Reporters: reporters,
	})
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, obs: obs, host: host, orch: orch}, nil
}

// buildReporters returns the optional metrics and archive reporters.
func buildReporters(ctx context.Context, cfg *config.Config, obs observability.Logger) ([]orchestrator.Reporter, error) {
	var reporters []orchestrator.Reporter

	if cfg.MetricsEnabled() {
		reporters = append(reporters, metrics.NewTextfileReporter(cfg.MetricsTextfileDir))
	}

	if cfg.ArchiveEnabled() {
		store, err := newArchiveStore(ctx, cfg)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "archive_endpoint", Err: err}
		}
		name, err := hostname()
		if err != nil || name == "" {
			obs.Printf("Warning: hostname unavailable, archiving state as \"unknown\"")
			name = "unknown"
		}
		reporters = append(reporters, s3.NewArchiver(store, cfg.ArchiveBucket, cfg.ArchivePrefix, name))
	}

	return reporters, nil
}
