package domain

import "time"

// ScheduleStatus is deployment schedule lifecycle state.
// Params: scheduled/running/completed/failed/cancelled constants.
// Returns: scheduler state machine positions.
type ScheduleStatus string

const (
	// ScheduleScheduled indicates entry is queued and cancellable.
	ScheduleScheduled ScheduleStatus = "scheduled"
	// ScheduleRunning indicates the pipeline is executing.
	ScheduleRunning ScheduleStatus = "running"
	// ScheduleCompleted indicates the deployer finished and post-checks ran.
	ScheduleCompleted ScheduleStatus = "completed"
	// ScheduleFailed indicates a pre-check gate or deployer error.
	ScheduleFailed ScheduleStatus = "failed"
	// ScheduleCancelled indicates operator cancellation before start.
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// CheckOutcome is one pre/post-check result inside a schedule run.
// Params: check name, required flag, pass marker, and captured error.
// Returns: explicit per-check record for the schedule report.
type CheckOutcome struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
}

// Schedule is one capital-risk deployment entry.
// Params: identity, lifecycle markers, check outcomes, and deploy results.
// Returns: record persisted in the re-loadable schedule registry.
type Schedule struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Status      ScheduleStatus    `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	PreChecks   []CheckOutcome    `json:"pre_checks,omitempty"`
	PostChecks  []CheckOutcome    `json:"post_checks,omitempty"`
	Deployed    map[string]string `json:"deployed,omitempty"`
	Multisig    string            `json:"multisig,omitempty"`
	Error       string            `json:"error,omitempty"`
	RollbackLog string            `json:"rollback_log,omitempty"`
}
