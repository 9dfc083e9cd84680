package observability

import (
	"fmt"
	"strconv"
	"time"
)

// Helper functions for common events

// LogStageStarted logs a stage start event.
func LogStageStarted(o Observer, stage string, attempt int) {
	o.Event(Event{
		Type:    EventStageStarted,
		Stage:   stage,
		Message: "starting",
		Fields:  map[string]string{"attempt": strconv.Itoa(attempt)},
	})
}

// LogStageCompleted logs a stage completion event.
func LogStageCompleted(o Observer, stage string, duration time.Duration) {
	o.Event(Event{
		Type:    EventStageCompleted,
		Stage:   stage,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogStageFailed logs a stage failure event.
func LogStageFailed(o Observer, stage, message string) {
	o.Event(Event{
		Type:    EventStageFailed,
		Stage:   stage,
		Message: "failed: " + message,
	})
}

// LogStageRebootRequested logs that a stage finished and needs a reboot.
func LogStageRebootRequested(o Observer, stage, message string) {
	msg := "completed, reboot required"
	if message != "" {
		msg += ": " + message
	}
	o.Event(Event{
		Type:    EventStageRebootRequested,
		Stage:   stage,
		Message: msg,
	})
}

// LogStageSkipped logs a stage that is already completed.
func LogStageSkipped(o Observer, stage string) {
	o.Event(Event{
		Type:    EventStageSkipped,
		Stage:   stage,
		Message: "already completed",
	})
}
