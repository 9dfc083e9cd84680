package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileName is the name of the state document inside the state directory.
const FileName = "state.json"

// Store reads and atomically rewrites the deployment state document.
type Store struct {
	path     string
	stageIDs []string
	now      func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a store for <dir>/state.json whose stage set is exactly
// stageIDs, in order.
func NewStore(dir string, stageIDs []string, opts ...Option) *Store {
	s := &Store{
		path:     filepath.Join(dir, FileName),
		stageIDs: append([]string(nil), stageIDs...),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Initialize creates the document with every stage pending if it does not
// exist yet. It reports whether a new document was written.
func (s *Store) Initialize() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, &StorageError{Op: "stat", Path: s.path, Err: err}
	}

	st := newDeploymentState(s.stageIDs, s.now())
	if err := createJSONExclusive(s.path, st); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, &StorageError{Op: "initialize", Path: s.path, Err: err}
	}
	return true, nil
}

// Load reads the document from disk. It returns ErrNotFound if the store
// was never initialized.
func (s *Store) Load() (*DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*DeploymentState, error) {
	// #nosec G304
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", Path: s.path, Err: err}
	}

	var st DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &StorageError{Op: "decode", Path: s.path, Err: err}
	}
	if st.Errors == nil {
		st.Errors = []ErrorEntry{}
	}
	if err := st.Check(s.stageIDs); err != nil {
		return nil, &StorageError{Op: "validate", Path: s.path, Err: err}
	}
	return &st, nil
}

// Mutate applies fn to a freshly loaded copy of the document and commits
// the result atomically. If fn returns an error or the result breaks an
// invariant, nothing is written. lastUpdatedAt is refreshed on every commit.
func (s *Store) Mutate(fn func(*DeploymentState) error) (*DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return nil, err
	}
	if err := st.Check(s.stageIDs); err != nil {
		return nil, err
	}
	st.LastUpdatedAt = s.now()

	if err := writeJSONAtomic(s.path, st); err != nil {
		return nil, &StorageError{Op: "write", Path: s.path, Err: err}
	}
	return st, nil
}

// SetStageStatus moves a stage to running, completed or failed.
//
//   - running: currentStage=id, attempts+1, lastAttemptAt=now
//   - completed: currentStage cleared, completedAt=now
//   - failed: currentStage cleared, one error entry appended
func (s *Store) SetStageStatus(id string, status Status, message string) (*DeploymentState, error) {
	return s.Mutate(func(st *DeploymentState) error {
		return s.transition(st, id, status, message)
	})
}

func (s *Store) transition(st *DeploymentState, id string, status Status, message string) error {
	rec := st.Stage(id)
	if rec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownStage, id)
	}
	now := s.now()

	switch status {
	case StatusRunning:
		if st.CurrentStage != "" && st.CurrentStage != id {
			return &InvariantError{Reason: fmt.Sprintf("cannot start %q while %q is running", id, st.CurrentStage)}
		}
		st.CurrentStage = id
		rec.Status = StatusRunning
		rec.Attempts++
		rec.LastAttemptAt = &now
		rec.CompletedAt = nil

	case StatusCompleted:
		st.CurrentStage = ""
		rec.Status = StatusCompleted
		rec.CompletedAt = &now

	case StatusFailed:
		st.CurrentStage = ""
		rec.Status = StatusFailed
		rec.CompletedAt = nil
		if strings.TrimSpace(message) == "" {
			message = "stage failed"
		}
		st.Errors = append(st.Errors, ErrorEntry{Stage: id, Message: message, Timestamp: now})

	default:
		return fmt.Errorf("unsupported stage transition to %q", status)
	}
	return nil
}

// CompleteWithReboot marks a stage completed and records that it requires a
// reboot, in one atomic commit.
func (s *Store) CompleteWithReboot(id string) (*DeploymentState, error) {
	return s.Mutate(func(st *DeploymentState) error {
		if err := s.transition(st, id, StatusCompleted, ""); err != nil {
			return err
		}
		st.RebootRequired = true
		st.RebootStage = id
		return nil
	})
}

// SetRebootRequired flags a reboot on behalf of an already completed stage.
func (s *Store) SetRebootRequired(id string) (*DeploymentState, error) {
	return s.Mutate(func(st *DeploymentState) error {
		if st.Stage(id) == nil {
			return fmt.Errorf("%w: %q", ErrUnknownStage, id)
		}
		st.RebootRequired = true
		st.RebootStage = id
		return nil
	})
}

// ClearRebootRequired clears the reboot flag and stage together.
func (s *Store) ClearRebootRequired() (*DeploymentState, error) {
	return s.Mutate(func(st *DeploymentState) error {
		st.RebootRequired = false
		st.RebootStage = ""
		return nil
	})
}

// UpdateSystemInfo replaces the informational host snapshot.
func (s *Store) UpdateSystemInfo(info SystemInfo) (*DeploymentState, error) {
	return s.Mutate(func(st *DeploymentState) error {
		st.SystemInfo = info
		return nil
	})
}

// Reset deletes the document and any leftover temp files. It is idempotent.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove", Path: s.path, Err: err}
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(s.path), "."+FileName+".*.tmp"))
	for _, tmp := range leftovers {
		_ = os.Remove(tmp)
	}
	return nil
}
