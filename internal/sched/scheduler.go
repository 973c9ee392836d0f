package sched

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sentinel/internal/clock"
	"sentinel/internal/domain"
	"sentinel/internal/faults"
	"sentinel/internal/state"

	"github.com/google/uuid"
)

// Deployer executes one deployment and reports deployed addresses.
// Params: context and schedule name.
// Returns: contract name to address map or deployment error.
type Deployer interface {
	Deploy(ctx context.Context, name string) (map[string]string, error)
}

// Check is one pre- or post-deployment verification.
// Params: display name, required gate flag, and check function.
// Returns: declarative check definition run by the pipeline.
type Check struct {
	Name     string
	Required bool
	Run      func(ctx context.Context) error
}

// Scheduler runs capital-risk deployments through a checked pipeline.
// Params: deployer, check lists, persistence, clock, and schedule map.
// Returns: single writer for all schedule records.
type Scheduler struct {
	mu         sync.Mutex
	deployer   Deployer
	preChecks  []Check
	postChecks []Check
	store      state.Store
	clk        clock.Clock
	logger     *slog.Logger
	multisig   string
	schedules  map[string]*domain.Schedule
}

// New creates the scheduler over fixed check lists.
// Params: deployer, checks, multisig label, store, clock, and logger.
// Returns: initialized scheduler with empty registry.
func New(
	deployer Deployer,
	preChecks, postChecks []Check,
	multisig string,
	store state.Store,
	clk clock.Clock,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		deployer:   deployer,
		preChecks:  preChecks,
		postChecks: postChecks,
		store:      store,
		clk:        clk,
		logger:     logger,
		multisig:   multisig,
		schedules:  make(map[string]*domain.Schedule),
	}
}

// Create registers one deployment schedule in scheduled state.
// Params: schedule display name.
// Returns: created schedule snapshot or validation error.
func (s *Scheduler) Create(name string) (domain.Schedule, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Schedule{}, fmt.Errorf("schedule name is required")
	}
	schedule := &domain.Schedule{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    domain.ScheduleScheduled,
		CreatedAt: s.clk.Now(),
		Multisig:  s.multisig,
	}
	s.mu.Lock()
	s.schedules[schedule.ID] = schedule
	snapshot := *schedule
	s.mu.Unlock()

	s.persist(schedule)
	if s.logger != nil {
		s.logger.Info("deployment scheduled", "schedule", schedule.ID, "name", name)
	}
	return snapshot, nil
}

// Cancel cancels one schedule while it is still queued.
// Params: schedule id.
// Returns: faults.ErrNotFound for unknown ids; error once running or done.
func (s *Scheduler) Cancel(id string) (domain.Schedule, error) {
	s.mu.Lock()
	schedule, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return domain.Schedule{}, faults.ErrNotFound
	}
	if schedule.Status != domain.ScheduleScheduled {
		s.mu.Unlock()
		return domain.Schedule{}, fmt.Errorf("schedule %s is %s and can no longer be cancelled", id, schedule.Status)
	}
	schedule.Status = domain.ScheduleCancelled
	finishedAt := s.clk.Now()
	schedule.FinishedAt = &finishedAt
	snapshot := cloneSchedule(*schedule)
	s.mu.Unlock()

	s.persist(schedule)
	return snapshot, nil
}

// Run executes one scheduled deployment through the full pipeline.
// Params: context and schedule id.
// Returns: terminal schedule snapshot; required pre-check or deployer
// failures end in failed status with a rollback-consideration record.
func (s *Scheduler) Run(ctx context.Context, id string) (domain.Schedule, error) {
	s.mu.Lock()
	schedule, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return domain.Schedule{}, faults.ErrNotFound
	}
	if schedule.Status != domain.ScheduleScheduled {
		s.mu.Unlock()
		return domain.Schedule{}, fmt.Errorf("schedule %s is %s and cannot be run", id, schedule.Status)
	}
	schedule.Status = domain.ScheduleRunning
	startedAt := s.clk.Now()
	schedule.StartedAt = &startedAt
	s.mu.Unlock()
	s.persist(schedule)

	preOutcomes, gateFailure := s.runChecks(ctx, s.preChecks)
	s.mu.Lock()
	schedule.PreChecks = preOutcomes
	s.mu.Unlock()
	if gateFailure != "" {
		return s.fail(schedule, fmt.Sprintf("required pre-check failed: %s", gateFailure),
			"no deployment was attempted, nothing to roll back"), nil
	}

	deployed, err := s.deployer.Deploy(ctx, schedule.Name)
	if err != nil {
		return s.fail(schedule, fmt.Sprintf("deployment failed: %s", err.Error()),
			"deployment failed mid-flight, review deployed artifacts for manual rollback"), nil
	}

	postOutcomes, _ := s.runChecks(ctx, s.postChecks)

	s.mu.Lock()
	schedule.Deployed = deployed
	schedule.PostChecks = postOutcomes
	schedule.Status = domain.ScheduleCompleted
	finishedAt := s.clk.Now()
	schedule.FinishedAt = &finishedAt
	snapshot := cloneSchedule(*schedule)
	s.mu.Unlock()

	s.persist(schedule)
	if s.logger != nil {
		s.logger.Info("deployment completed", "schedule", id, "contracts", len(deployed))
	}
	return snapshot, nil
}

// Get returns one schedule snapshot by id.
// Params: schedule id.
// Returns: schedule clone or faults.ErrNotFound.
func (s *Scheduler) Get(id string) (domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return domain.Schedule{}, faults.ErrNotFound
	}
	return cloneSchedule(*schedule), nil
}

// List returns snapshots of all known schedules.
// Params: none.
// Returns: schedule clones in map order resolved by store listing order.
func (s *Scheduler) List() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, cloneSchedule(*schedule))
	}
	return out
}

// Restore reloads persisted schedules into the registry.
// Params: none.
// Returns: load error; running entries are marked failed on restore.
func (s *Scheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	stored, err := s.store.ListSchedules()
	if err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range stored {
		schedule := stored[i]
		if schedule.Status == domain.ScheduleRunning {
			schedule.Status = domain.ScheduleFailed
			schedule.Error = "interrupted by process restart"
		}
		restored := schedule
		s.schedules[schedule.ID] = &restored
	}
	return nil
}

// runChecks executes one check list and captures per-check outcomes.
// Params: context and check list.
// Returns: outcomes plus the name of the first failed required check.
func (s *Scheduler) runChecks(ctx context.Context, checks []Check) ([]domain.CheckOutcome, string) {
	outcomes := make([]domain.CheckOutcome, 0, len(checks))
	gateFailure := ""
	for _, check := range checks {
		outcome := domain.CheckOutcome{Name: check.Name, Required: check.Required}
		if err := check.Run(ctx); err != nil {
			outcome.Error = err.Error()
			if check.Required && gateFailure == "" {
				gateFailure = check.Name
			}
			if s.logger != nil {
				s.logger.Warn("deployment check failed",
					"check", check.Name, "required", check.Required, "error", err.Error())
			}
		} else {
			outcome.Passed = true
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, gateFailure
}

// fail marks one schedule failed with its rollback-consideration record.
// Params: schedule, failure text, and rollback note.
// Returns: terminal schedule snapshot.
func (s *Scheduler) fail(schedule *domain.Schedule, reason, rollback string) domain.Schedule {
	s.mu.Lock()
	schedule.Status = domain.ScheduleFailed
	schedule.Error = reason
	schedule.RollbackLog = rollback
	finishedAt := s.clk.Now()
	schedule.FinishedAt = &finishedAt
	snapshot := cloneSchedule(*schedule)
	s.mu.Unlock()

	s.persist(schedule)
	if s.logger != nil {
		s.logger.Error("deployment failed", "schedule", schedule.ID, "reason", reason)
	}
	return snapshot
}

// persist saves one schedule snapshot to the state store.
// Params: schedule owned by this scheduler.
// Returns: store failure only logged.
func (s *Scheduler) persist(schedule *domain.Schedule) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	snapshot := cloneSchedule(*schedule)
	s.mu.Unlock()
	if err := s.store.SaveSchedule(snapshot); err != nil && s.logger != nil {
		s.logger.Warn("schedule persist failed", "schedule", schedule.ID, "error", err.Error())
	}
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
