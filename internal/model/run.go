package model

import "time"

// Trigger identifies what started a workflow run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// RunStatus represents the state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Phase groups workflow steps. A failure in the setup phase is a setup error;
// a failure in the execute phase is an execution error.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhaseExecute Phase = "execute"
)

// Run is a single workflow execution.
type Run struct {
	ID         string       `json:"id"`
	Trigger    Trigger      `json:"trigger"`
	Status     RunStatus    `json:"status"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
}

// Duration returns the elapsed run time, or zero while the run is in progress.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Name      string        `json:"name"`
	Phase     Phase         `json:"phase"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// OK reports whether the step exited zero without error.
func (s StepResult) OK() bool {
	return s.ExitCode == 0 && s.Error == ""
}
