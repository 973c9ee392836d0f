package state

import (
	"time"

	"sentinel/internal/domain"
)

// AuditRecord is one append-only entry in the action audit log.
// Params: sequence assigned by the store, incident/action identity, and outcome.
// Returns: immutable trail record for every attempted response action.
type AuditRecord struct {
	Seq        uint64              `json:"seq"`
	Timestamp  time.Time           `json:"timestamp"`
	IncidentID string              `json:"incident_id"`
	ActionID   string              `json:"action_id"`
	ActionType domain.ActionType   `json:"action_type"`
	Automated  bool                `json:"automated"`
	Result     domain.ActionResult `json:"result"`
	Error      string              `json:"error,omitempty"`
}

// Store persists incidents, schedules, and the action audit trail.
// Params: none.
// Returns: backend-neutral persistence surface; lookups miss with
// faults.ErrNotFound.
type Store interface {
	SaveIncident(incident domain.Incident) error
	GetIncident(id string) (domain.Incident, error)
	ListIncidents() ([]domain.Incident, error)

	AppendAudit(record AuditRecord) error
	ListAudit() ([]AuditRecord, error)

	SaveSchedule(schedule domain.Schedule) error
	GetSchedule(id string) (domain.Schedule, error)
	ListSchedules() ([]domain.Schedule, error)

	Close() error
}
