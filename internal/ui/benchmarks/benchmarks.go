// Package benchmarks provides timing estimates for provisioning stages.
package benchmarks

import (
	"time"

	"github.com/imamik/gpuprep/internal/state"
)

// DefaultTimings are typical stage durations on a fresh cloud GPU host
// (seconds). Reboots are not included.
var DefaultTimings = map[string]int{
	"system-update":            240,
	"base-packages":            90,
	"nvidia-driver":            420,
	"cuda-toolkit":             600,
	"docker":                   120,
	"nvidia-container-toolkit": 60,
	"firewall":                 10,
	"ssh-hardening":            10,
	"validation":               60,
}

// Expected returns the benchmark duration for a stage.
func Expected(stageID string) (time.Duration, bool) {
	secs, ok := DefaultTimings[stageID]
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// observed returns how long the last attempt of a completed stage took.
func observed(rec state.StageRecord) (time.Duration, bool) {
	if rec.Status != state.StatusCompleted || rec.LastAttemptAt == nil || rec.CompletedAt == nil {
		return 0, false
	}
	d := rec.CompletedAt.Sub(*rec.LastAttemptAt)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

// PerformanceScale derives a speed multiplier from observed-vs-expected
// durations of completed stages.
// Example: expected 4m, observed 6m => scale=1.5.
func PerformanceScale(stages state.StageList) float64 {
	var expectedTotal, actualTotal time.Duration
	for _, e := range stages {
		expected, ok := Expected(e.ID)
		if !ok {
			continue
		}
		actual, ok := observed(e.Record)
		if !ok {
			continue
		}
		expectedTotal += expected
		actualTotal += actual
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}

	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.25 {
		return 0.25
	}
	if scale > 4.0 {
		return 4.0
	}
	return scale
}

// EstimateRemaining sums the scaled benchmark of every stage that is not
// completed. A running stage only contributes what is left of its budget.
func EstimateRemaining(stages state.StageList, now time.Time) time.Duration {
	scale := PerformanceScale(stages)
	var remaining time.Duration

	for _, e := range stages {
		if e.Record.Status == state.StatusCompleted {
			continue
		}
		expected, ok := Expected(e.ID)
		if !ok {
			continue
		}
		expected = time.Duration(float64(expected) * scale)

		if e.Record.Status == state.StatusRunning && e.Record.LastAttemptAt != nil {
			elapsed := now.Sub(*e.Record.LastAttemptAt)
			if elapsed >= expected {
				continue
			}
			expected -= elapsed
		}
		remaining += expected
	}
	return remaining
}

// TotalEstimate returns the estimated duration of the default pipeline.
func TotalEstimate() time.Duration {
	var total time.Duration
	for _, secs := range DefaultTimings {
		total += time.Duration(secs) * time.Second
	}
	return total
}
