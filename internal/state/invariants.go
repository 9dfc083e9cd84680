package state

import "fmt"

// Check verifies the document invariants against the registry's ordered
// stage ids.
func (s *DeploymentState) Check(stageIDs []string) error {
	if len(s.Stages) != len(stageIDs) {
		return fmt.Errorf("%w: %d stages stored, %d registered", ErrRegistryMismatch, len(s.Stages), len(stageIDs))
	}
	for i, id := range stageIDs {
		if s.Stages[i].ID != id {
			return fmt.Errorf("%w: position %d is %q, registry has %q", ErrRegistryMismatch, i, s.Stages[i].ID, id)
		}
	}

	running := ""
	for _, e := range s.Stages {
		rec := e.Record
		if !rec.Status.Valid() {
			return &InvariantError{Reason: fmt.Sprintf("stage %q has unknown status %q", e.ID, rec.Status)}
		}
		if (rec.Status == StatusCompleted) != (rec.CompletedAt != nil) {
			return &InvariantError{Reason: fmt.Sprintf("stage %q: completedAt must be set only when completed", e.ID)}
		}
		if rec.Status == StatusRunning {
			if running != "" {
				return &InvariantError{Reason: fmt.Sprintf("stages %q and %q are both running", running, e.ID)}
			}
			running = e.ID
		}
	}
	if running != s.CurrentStage {
		return &InvariantError{Reason: fmt.Sprintf("currentStage %q does not match running stage %q", s.CurrentStage, running)}
	}

	if s.RebootRequired {
		rec := s.Stage(s.RebootStage)
		if rec == nil || rec.Status != StatusCompleted {
			return &InvariantError{Reason: fmt.Sprintf("reboot requested by %q which is not completed", s.RebootStage)}
		}
	} else if s.RebootStage != "" {
		return &InvariantError{Reason: "rebootStage set without rebootRequired"}
	}

	return nil
}
