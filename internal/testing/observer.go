package testing

import (
	"fmt"
	"maps"
	"sync"

	"github.com/imamik/gpuprep/internal/observability"
)

// RecordingObserver records every message and event. Observers derived via
// WithFields share the parent's recording.
type RecordingObserver struct {
	rec    *recording
	fields map[string]string
}

type recording struct {
	mu       sync.Mutex
	events   []observability.Event
	messages []string
}

// NewRecordingObserver creates an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{rec: &recording{}, fields: map[string]string{}}
}

// Printf implements observability.Logger.
func (o *RecordingObserver) Printf(format string, v ...interface{}) {
	o.rec.mu.Lock()
	defer o.rec.mu.Unlock()
	o.rec.messages = append(o.rec.messages, fmt.Sprintf(format, v...))
}

// Event implements observability.Observer.
func (o *RecordingObserver) Event(event observability.Event) {
	if len(o.fields) > 0 {
		merged := maps.Clone(o.fields)
		maps.Copy(merged, event.Fields)
		event.Fields = merged
	}
	o.rec.mu.Lock()
	defer o.rec.mu.Unlock()
	o.rec.events = append(o.rec.events, event)
}

// Progress implements observability.Observer.
func (o *RecordingObserver) Progress(stage string, current, total int) {
	o.Event(observability.Event{
		Type:    observability.EventProgress,
		Stage:   stage,
		Message: fmt.Sprintf("%d/%d", current, total),
	})
}

// WithFields implements observability.Observer.
func (o *RecordingObserver) WithFields(fields map[string]string) observability.Observer {
	merged := maps.Clone(o.fields)
	maps.Copy(merged, fields)
	return &RecordingObserver{rec: o.rec, fields: merged}
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []observability.Event {
	o.rec.mu.Lock()
	defer o.rec.mu.Unlock()
	return append([]observability.Event(nil), o.rec.events...)
}

// Messages returns a copy of the recorded Printf messages.
func (o *RecordingObserver) Messages() []string {
	o.rec.mu.Lock()
	defer o.rec.mu.Unlock()
	return append([]string(nil), o.rec.messages...)
}

// EventTypes returns the recorded event types in order.
func (o *RecordingObserver) EventTypes() []observability.EventType {
	events := o.Events()
	types := make([]observability.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// HasEvent reports whether an event of type t was recorded for stage.
func (o *RecordingObserver) HasEvent(t observability.EventType, stage string) bool {
	for _, e := range o.Events() {
		if e.Type == t && (stage == "" || e.Stage == stage) {
			return true
		}
	}
	return false
}
