package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is written to every new document.
const SchemaVersion = "1"

// Status is the lifecycle status of one stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// StageRecord is the persisted progress of one stage.
type StageRecord struct {
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// StageEntry pairs a stage id with its record.
type StageEntry struct {
	ID     string
	Record StageRecord
}

// StageList is an ordered mapping from stage id to record. It serializes as
// a JSON object whose keys keep registry order.
type StageList []StageEntry

// MarshalJSON writes the entries as an object in slice order.
func (l StageList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		rec, err := json.Marshal(e.Record)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(rec)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order of the document.
func (l *StageList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("stages: expected object, got %v", tok)
	}

	var out StageList
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("stages: expected string key, got %v", tok)
		}
		var rec StageRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("stages: %s: %w", id, err)
		}
		out = append(out, StageEntry{ID: id, Record: rec})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = out
	return nil
}

// ErrorEntry is one element of the append-only error log.
type ErrorEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SystemInfo is an informational snapshot of host facts. It never drives
// control flow.
type SystemInfo struct {
	Hostname    string    `json:"hostname,omitempty"`
	Addresses   []string  `json:"addresses,omitempty"`
	OSVersion   string    `json:"osVersion,omitempty"`
	Kernel      string    `json:"kernel,omitempty"`
	CollectedAt time.Time `json:"collectedAt,omitempty"`
}

// DeploymentState is the whole persisted document.
type DeploymentState struct {
	Version        string       `json:"version"`
	StartedAt      time.Time    `json:"startedAt"`
	LastUpdatedAt  time.Time    `json:"lastUpdatedAt"`
	CurrentStage   string       `json:"currentStage"`
	Stages         StageList    `json:"stages"`
	RebootRequired bool         `json:"rebootRequired"`
	RebootStage    string       `json:"rebootStage"`
	SystemInfo     SystemInfo   `json:"systemInfo"`
	Errors         []ErrorEntry `json:"errors"`
}

// newDeploymentState builds a document with every stage pending.
func newDeploymentState(stageIDs []string, now time.Time) *DeploymentState {
	st := &DeploymentState{
		Version:       SchemaVersion,
		StartedAt:     now,
		LastUpdatedAt: now,
		Stages:        make(StageList, 0, len(stageIDs)),
		Errors:        []ErrorEntry{},
	}
	for _, id := range stageIDs {
		st.Stages = append(st.Stages, StageEntry{ID: id, Record: StageRecord{Status: StatusPending}})
	}
	return st
}

// Stage returns the record for id, or nil.
func (s *DeploymentState) Stage(id string) *StageRecord {
	for i := range s.Stages {
		if s.Stages[i].ID == id {
			return &s.Stages[i].Record
		}
	}
	return nil
}

// CompletedCount returns how many stages are completed.
func (s *DeploymentState) CompletedCount() int {
	n := 0
	for _, e := range s.Stages {
		if e.Record.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Progress returns the completed fraction in [0, 1].
func (s *DeploymentState) Progress() float64 {
	if len(s.Stages) == 0 {
		return 0
	}
	return float64(s.CompletedCount()) / float64(len(s.Stages))
}

// ResumeIndex returns the index of the first stage that is not completed.
// ok is false when every stage is completed.
func (s *DeploymentState) ResumeIndex() (idx int, ok bool) {
	for i, e := range s.Stages {
		if e.Record.Status != StatusCompleted {
			return i, true
		}
	}
	return len(s.Stages), false
}

// Complete reports whether every stage is completed and no reboot is pending.
func (s *DeploymentState) Complete() bool {
	_, pending := s.ResumeIndex()
	return !pending && !s.RebootRequired
}

// StageIDs returns the stage ids in document order.
func (s *DeploymentState) StageIDs() []string {
	ids := make([]string, len(s.Stages))
	for i, e := range s.Stages {
		ids[i] = e.ID
	}
	return ids
}

// Clone returns a deep copy.
func (s *DeploymentState) Clone() *DeploymentState {
	out := *s
	out.Stages = make(StageList, len(s.Stages))
	for i, e := range s.Stages {
		out.Stages[i] = StageEntry{ID: e.ID, Record: StageRecord{
			Status:        e.Record.Status,
			Attempts:      e.Record.Attempts,
			LastAttemptAt: cloneTime(e.Record.LastAttemptAt),
			CompletedAt:   cloneTime(e.Record.CompletedAt),
		}}
	}
	out.Errors = append([]ErrorEntry{}, s.Errors...)
	out.SystemInfo.Addresses = append([]string(nil), s.SystemInfo.Addresses...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
