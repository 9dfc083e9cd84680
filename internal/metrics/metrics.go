// Package metrics exports deployment progress in the Prometheus textfile
// format for node_exporter's textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/gpuprep/internal/orchestrator"
	"github.com/imamik/gpuprep/internal/state"
)

// FileName is the textfile written inside the collector directory.
const FileName = "gpuprep.prom"

var statuses = []state.Status{
	state.StatusPending,
	state.StatusRunning,
	state.StatusCompleted,
	state.StatusFailed,
}

var outcomes = []orchestrator.Outcome{
	orchestrator.OutcomeCompleted,
	orchestrator.OutcomeFailed,
	orchestrator.OutcomeAwaitingReboot,
}

// Collector holds the gauges for one snapshot of the deployment.
type Collector struct {
	registry *prometheus.Registry

	stageStatus   *prometheus.GaugeVec
	stageAttempts *prometheus.GaugeVec
	stageDuration *prometheus.GaugeVec
	progress      prometheus.Gauge
	rebootPending prometheus.Gauge
	lastOutcome   *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stageStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpuprep",
				Subsystem: "stage",
				Name:      "status",
				Help:      "Current status of each stage (1 for the active status, 0 otherwise)",
			},
			[]string{"stage", "status"},
		),
		stageAttempts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpuprep",
				Subsystem: "stage",
				Name:      "attempts",
				Help:      "Number of times each stage has been started",
			},
			[]string{"stage"},
		),
		stageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpuprep",
				Subsystem: "stage",
				Name:      "last_duration_seconds",
				Help:      "Duration of the most recent execution of each stage",
			},
			[]string{"stage"},
		),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpuprep",
			Subsystem: "pipeline",
			Name:      "progress_ratio",
			Help:      "Fraction of stages completed",
		}),
		rebootPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpuprep",
			Subsystem: "pipeline",
			Name:      "reboot_pending",
			Help:      "Whether a stage is waiting for a reboot (1) or not (0)",
		}),
		lastOutcome: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpuprep",
				Subsystem: "pipeline",
				Name:      "last_outcome",
				Help:      "Outcome of the most recent invocation (1 for the active outcome)",
			},
			[]string{"outcome"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpuprep",
			Subsystem: "pipeline",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the most recent invocation",
		}),
	}
	c.registry.MustRegister(
		c.stageStatus,
		c.stageAttempts,
		c.stageDuration,
		c.progress,
		c.rebootPending,
		c.lastOutcome,
		c.lastRun,
	)
	return c
}

// Gatherer exposes the registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Observe updates every gauge from an invocation report.
func (c *Collector) Observe(report *orchestrator.Report, now time.Time) {
	if st := report.State; st != nil {
		for _, e := range st.Stages {
			for _, s := range statuses {
				v := 0.0
				if e.Record.Status == s {
					v = 1
				}
				c.stageStatus.WithLabelValues(e.ID, string(s)).Set(v)
			}
			c.stageAttempts.WithLabelValues(e.ID).Set(float64(e.Record.Attempts))
		}
		c.progress.Set(st.Progress())
		if st.RebootRequired {
			c.rebootPending.Set(1)
		} else {
			c.rebootPending.Set(0)
		}
	}
	for id, d := range report.Duration {
		c.stageDuration.WithLabelValues(id).Set(d.Seconds())
	}
	for _, o := range outcomes {
		v := 0.0
		if report.Outcome == o {
			v = 1
		}
		c.lastOutcome.WithLabelValues(o.String()).Set(v)
	}
	c.lastRun.Set(float64(now.Unix()))
}

// TextfileReporter writes a fresh textfile after every invocation.
type TextfileReporter struct {
	dir string
	now func() time.Time
}

// NewTextfileReporter writes to <dir>/gpuprep.prom.
func NewTextfileReporter(dir string) *TextfileReporter {
	return &TextfileReporter{dir: dir, now: time.Now}
}

// Path returns the textfile location.
func (r *TextfileReporter) Path() string {
	return filepath.Join(r.dir, FileName)
}

// Report implements orchestrator.Reporter.
func (r *TextfileReporter) Report(_ context.Context, report *orchestrator.Report) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	c := NewCollector()
	c.Observe(report, r.now())
	if err := prometheus.WriteToTextfile(r.Path(), c.Gatherer()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
