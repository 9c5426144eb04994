package automation

import "time"

// RunStatus is the final status of a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	// RunPartial means some steps failed but the run was allowed to continue.
	RunPartial RunStatus = "partial"
)

// StopReason explains why a run ended before its last step.
type StopReason string

const (
	StopNone          StopReason = ""
	StopFilter        StopReason = "filter"
	StopBranchNoMatch StopReason = "branch_no_match"
	StopFailure       StopReason = "failure"
	StopCancelled     StopReason = "cancelled"
	StopLoopFailure   StopReason = "loop_failure"
)

// StepStatus is the status of one step outcome.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	// StepStopped marks a filter or branch that ended the run successfully.
	StepStopped StepStatus = "stopped"
)

// IterationOutcome records one pass of a loop.
type IterationOutcome struct {
	Index   int        `json:"index"`
	Item    any        `json:"item"`
	Status  StepStatus `json:"status"`
	Outputs Outputs    `json:"outputs,omitempty"`
	Error   *StepError `json:"error,omitempty"`
}

// StepOutcome is the record of one dispatched step.
type StepOutcome struct {
	StepID string `json:"stepId"`
	Kind   StepID `json:"kind"`
	// Position is the 1-based index in the enclosing step list.
	Position int `json:"position"`
	// Path locates nested steps, e.g. "3/branch:b2/1".
	Path       string             `json:"path"`
	Status     StepStatus         `json:"status"`
	Outputs    Outputs            `json:"outputs,omitempty"`
	Error      *StepError         `json:"error,omitempty"`
	Attempts   int                `json:"attempts"`
	Iterations []IterationOutcome `json:"iterations,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// RunResult is the record of a finished run.
type RunResult struct {
	RunID          string         `json:"runId"`
	AutomationID   string         `json:"automationId"`
	Status         RunStatus      `json:"status"`
	StopReason     StopReason     `json:"stopReason,omitempty"`
	Steps          []StepOutcome  `json:"steps"`
	TriggerOutputs map[string]any `json:"triggerOutputs,omitempty"`
	Collected      any            `json:"collected,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	CompletedAt    time.Time      `json:"completedAt"`
}

// Step returns the first outcome recorded for stepID.
func (r *RunResult) Step(stepID string) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
