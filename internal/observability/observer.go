package observability

import (
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	"time"
)

// Logger is the minimal printf-style logging interface.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Observer defines the interface for structured observability during a deployment.
type Observer interface {
	Logger

	// Event emits a structured event
	Event(event Event)

	// Progress reports pipeline progress
	Progress(stage string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured deployment event.
type Event struct {
	Type      EventType
	Stage     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// EventType represents the type of deployment event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineHalted    EventType = "pipeline.halted"

	EventStageStarted         EventType = "stage.started"
	EventStageCompleted       EventType = "stage.completed"
	EventStageFailed          EventType = "stage.failed"
	EventStageRebootRequested EventType = "stage.reboot_requested"
	EventStageSkipped         EventType = "stage.skipped"

	EventValidationPassed EventType = "validation.passed"
	EventValidationFailed EventType = "validation.failed"

	EventRebootScheduled EventType = "reboot.scheduled"
	EventRebootCancelled EventType = "reboot.cancelled"

	EventLockAcquired EventType = "lock.acquired"
	EventLockReleased EventType = "lock.released"

	EventProgress EventType = "progress"
)

// IsFailure reports whether events of this type describe a failure.
func (t EventType) IsFailure() bool {
	return t == EventStageFailed || t == EventPipelineHalted || t == EventValidationFailed
}

// ConsoleObserver implements Observer using the standard log package.
type ConsoleObserver struct {
	contextFields map[string]string
}

// NewConsoleObserver creates a new console-based observer.
func NewConsoleObserver() *ConsoleObserver {
	return &ConsoleObserver{contextFields: make(map[string]string)}
}

// Printf implements Logger.
func (o *ConsoleObserver) Printf(format string, v ...interface{}) {
	log.Printf(format, v...)
}

// Event implements Observer.
func (o *ConsoleObserver) Event(event Event) {
	log.Print(FormatEvent(withContext(event, o.contextFields)))
}

// Progress implements Observer.
func (o *ConsoleObserver) Progress(stage string, current, total int) {
	log.Print(formatProgress(stage, current, total))
}

// WithFields implements Observer.
func (o *ConsoleObserver) WithFields(fields map[string]string) Observer {
	return &ConsoleObserver{contextFields: mergeFields(o.contextFields, fields)}
}

// FormatEvent renders an event as a single human-readable line.
func FormatEvent(event Event) string {
	parts := []string{string(event.Type)}
	if event.Stage != "" {
		parts = append(parts, fmt.Sprintf("[%s]", event.Stage))
	}
	if event.Message != "" {
		parts = append(parts, event.Message)
	}
	if len(event.Fields) > 0 {
		keys := sortedKeys(event.Fields)
		fieldParts := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%s", k, event.Fields[k]))
		}
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(fieldParts, ", ")))
	}
	return strings.Join(parts, " ")
}

func formatProgress(stage string, current, total int) string {
	if total == 0 {
		return fmt.Sprintf("[%s] Progress: %d/%d", stage, current, total)
	}
	return fmt.Sprintf("[%s] Progress: %d/%d (%d%%)", stage, current, total, current*100/total)
}

// withContext stamps the event and merges context fields without
// overriding fields set on the event itself.
func withContext(event Event, contextFields map[string]string) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if len(contextFields) == 0 {
		return event
	}
	merged := make(map[string]string, len(event.Fields)+len(contextFields))
	maps.Copy(merged, contextFields)
	maps.Copy(merged, event.Fields)
	event.Fields = merged
	return event
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

func mergeFields(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}
