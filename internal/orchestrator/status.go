package orchestrator

import (
	"github.com/imamik/gpuprep/internal/lock"
	"github.com/imamik/gpuprep/internal/state"
)

// StageStatus is one row of a status report.
type StageStatus struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	state.StageRecord
}

// StatusReport is the read-only view rendered by the status command.
type StatusReport struct {
	Stages         []StageStatus          `json:"stages"`
	Completed      int                    `json:"completed"`
	Total          int                    `json:"total"`
	Progress       float64                `json:"progress"`
	CurrentStage   string                 `json:"currentStage,omitempty"`
	RebootRequired bool                   `json:"rebootRequired"`
	RebootStage    string                 `json:"rebootStage,omitempty"`
	Complete       bool                   `json:"complete"`
	Lock           *lock.Owner            `json:"lock,omitempty"`
	LockStale      bool                   `json:"lockStale,omitempty"`
	ResumeArmed    bool                   `json:"resumeArmed"`
	State          *state.DeploymentState `json:"state"`
}

// Status loads the state document without taking the lock or mutating
// anything. It returns state.ErrNotFound before the first run.
func (o *Orchestrator) Status() (*StatusReport, error) {
	st, err := o.store.Load()
	if err != nil {
		return nil, err
	}

	rep := &StatusReport{
		Completed:      st.CompletedCount(),
		Total:          len(st.Stages),
		Progress:       st.Progress(),
		CurrentStage:   st.CurrentStage,
		RebootRequired: st.RebootRequired,
		RebootStage:    st.RebootStage,
		Complete:       st.Complete(),
		ResumeArmed:    o.trigger.Armed(),
		State:          st,
	}
	for _, e := range st.Stages {
		rep.Stages = append(rep.Stages, StageStatus{
			ID:          e.ID,
			DisplayName: o.registry.DisplayName(e.ID),
			StageRecord: e.Record,
		})
	}

	// The holder is informational; a broken lock record does not fail status.
	if holder, err := o.lock.Holder(); err == nil && holder != nil {
		rep.Lock = holder
		rep.LockStale = o.lock.IsStale(holder)
	}
	return rep, nil
}
