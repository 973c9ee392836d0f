package state

import (
	"sort"
	"sync"

	"sentinel/internal/domain"
	"sentinel/internal/faults"
)

// MemoryStore keeps incidents, schedules, and audit records in process memory.
// Params: mutex-guarded maps and monotonic audit sequence.
// Returns: default backend for tests and memory store mode.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]domain.Incident
	schedules map[string]domain.Schedule
	audit     []AuditRecord
	auditSeq  uint64
}

// NewMemoryStore creates the empty in-memory backend.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]domain.Incident),
		schedules: make(map[string]domain.Schedule),
	}
}

// SaveIncident stores one incident snapshot by id.
// Params: incident snapshot.
// Returns: nil; the stored copy is deep-cloned.
func (s *MemoryStore) SaveIncident(incident domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = cloneIncident(incident)
	return nil
}

// GetIncident loads one incident by id.
// Params: incident id.
// Returns: incident clone or faults.ErrNotFound.
func (s *MemoryStore) GetIncident(id string) (domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return domain.Incident{}, faults.ErrNotFound
	}
	return cloneIncident(incident), nil
}

// ListIncidents returns all stored incidents.
// Params: none.
// Returns: incident clones sorted by detection time then id.
func (s *MemoryStore) ListIncidents() ([]domain.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Incident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		out = append(out, cloneIncident(incident))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendAudit appends one audit record with the next sequence number.
// Params: audit record; Seq is assigned by the store.
// Returns: nil.
func (s *MemoryStore) AppendAudit(record AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditSeq++
	record.Seq = s.auditSeq
	s.audit = append(s.audit, record)
	return nil
}

// ListAudit returns the full audit trail in append order.
// Params: none.
// Returns: audit record copies.
func (s *MemoryStore) ListAudit() ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditRecord(nil), s.audit...), nil
}

// SaveSchedule stores one schedule snapshot by id.
// Params: schedule snapshot.
// Returns: nil; the stored copy is deep-cloned.
func (s *MemoryStore) SaveSchedule(schedule domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

// GetSchedule loads one schedule by id.
// Params: schedule id.
// Returns: schedule clone or faults.ErrNotFound.
func (s *MemoryStore) GetSchedule(id string) (domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return domain.Schedule{}, faults.ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

// ListSchedules returns all stored schedules.
// Params: none.
// Returns: schedule clones sorted by creation time then id.
func (s *MemoryStore) ListSchedules() ([]domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, cloneSchedule(schedule))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close releases backend resources.
// Params: none.
// Returns: nil for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

// cloneIncident deep-copies one incident record.
// Params: source incident.
// Returns: independent copy safe to hand to callers.
func cloneIncident(incident domain.Incident) domain.Incident {
	out := incident
	out.AffectedContracts = append([]string(nil), incident.AffectedContracts...)
	out.Timeline = append([]domain.TimelineEvent(nil), incident.Timeline...)
	out.ResponseActions = make([]domain.ResponseAction, len(incident.ResponseActions))
	for i, action := range incident.ResponseActions {
		cloned := action
		cloned.Targets = append([]domain.TargetResult(nil), action.Targets...)
		if action.ExecutedAt != nil {
			executedAt := *action.ExecutedAt
			cloned.ExecutedAt = &executedAt
		}
		out.ResponseActions[i] = cloned
	}
	return out
}

// cloneSchedule deep-copies one schedule record.
// Params: source schedule.
// Returns: independent copy safe to hand to callers.
func cloneSchedule(schedule domain.Schedule) domain.Schedule {
	out := schedule
	out.PreChecks = append([]domain.CheckOutcome(nil), schedule.PreChecks...)
	out.PostChecks = append([]domain.CheckOutcome(nil), schedule.PostChecks...)
	if schedule.Deployed != nil {
		out.Deployed = make(map[string]string, len(schedule.Deployed))
		for name, address := range schedule.Deployed {
			out.Deployed[name] = address
		}
	}
	if schedule.StartedAt != nil {
		startedAt := *schedule.StartedAt
		out.StartedAt = &startedAt
	}
	if schedule.FinishedAt != nil {
		finishedAt := *schedule.FinishedAt
		out.FinishedAt = &finishedAt
	}
	return out
}
