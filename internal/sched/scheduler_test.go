package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/domain"
	"sentinel/internal/faults"
	"sentinel/internal/state"
)

type fakeDeployer struct {
	deployed map[string]string
	err      error
	calls    int
}

func (d *fakeDeployer) Deploy(context.Context, string) (map[string]string, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.deployed, nil
}

func passingCheck(name string, required bool) Check {
	return Check{Name: name, Required: required, Run: func(context.Context) error { return nil }}
}

func failingCheck(name string, required bool) Check {
	return Check{Name: name, Required: required, Run: func(context.Context) error {
		return errors.New("unreachable")
	}}
}

func newTestScheduler(deployer *fakeDeployer, pre, post []Check) (*Scheduler, *state.MemoryStore) {
	store := state.NewMemoryStore()
	clk := clock.NewManual(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	return New(deployer, pre, post, "0x9999999999999999999999999999999999999999", store, clk, nil), store
}

func TestCreateRegistersScheduledEntry(t *testing.T) {
	t.Parallel()

	scheduler, store := newTestScheduler(&fakeDeployer{}, nil, nil)
	schedule, err := scheduler.Create("fleet rollout")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if schedule.Status != domain.ScheduleScheduled || schedule.ID == "" {
		t.Fatalf("unexpected schedule %+v", schedule)
	}
	if schedule.Multisig == "" {
		t.Fatalf("schedule must carry the multisig label")
	}
	if _, err := store.GetSchedule(schedule.ID); err != nil {
		t.Fatalf("schedule must be persisted: %v", err)
	}

	if _, err := scheduler.Create("  "); err == nil {
		t.Fatalf("blank names must be rejected")
	}
}

func TestCancelOnlyWhileScheduled(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{deployed: map[string]string{"vault": "0x1111111111111111111111111111111111111111"}}
	scheduler, _ := newTestScheduler(deployer, nil, nil)

	schedule, err := scheduler.Create("fleet rollout")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := scheduler.Cancel(schedule.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.ScheduleCancelled || cancelled.FinishedAt == nil {
		t.Fatalf("unexpected cancelled schedule %+v", cancelled)
	}

	// A cancelled schedule cannot be run or cancelled again.
	if _, err := scheduler.Run(context.Background(), schedule.ID); err == nil {
		t.Fatalf("running a cancelled schedule must fail")
	}
	if _, err := scheduler.Cancel(schedule.ID); err == nil {
		t.Fatalf("double cancel must fail")
	}

	if _, err := scheduler.Cancel("ghost"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{deployed: map[string]string{"vault": "0x1111111111111111111111111111111111111111"}}
	scheduler, store := newTestScheduler(deployer,
		[]Check{passingCheck("rpc reachable", true)},
		[]Check{passingCheck("balances readable", false)})

	schedule, err := scheduler.Create("fleet rollout")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := scheduler.Run(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != domain.ScheduleCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Fatalf("timestamps missing: %+v", done)
	}
	if done.Deployed["vault"] == "" {
		t.Fatalf("deployed address book missing: %+v", done.Deployed)
	}
	if len(done.PreChecks) != 1 || !done.PreChecks[0].Passed {
		t.Fatalf("pre-check outcomes missing: %+v", done.PreChecks)
	}
	if len(done.PostChecks) != 1 || !done.PostChecks[0].Passed {
		t.Fatalf("post-check outcomes missing: %+v", done.PostChecks)
	}

	stored, err := store.GetSchedule(schedule.ID)
	if err != nil {
		t.Fatalf("get stored schedule: %v", err)
	}
	if stored.Status != domain.ScheduleCompleted {
		t.Fatalf("terminal state must be persisted, got %s", stored.Status)
	}
}

func TestRequiredPreCheckGatesDeployment(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{deployed: map[string]string{}}
	scheduler, _ := newTestScheduler(deployer,
		[]Check{failingCheck("rpc reachable", true)}, nil)

	schedule, err := scheduler.Create("fleet rollout")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := scheduler.Run(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != domain.ScheduleFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if deployer.calls != 0 {
		t.Fatalf("deployer must never run after a failed required pre-check")
	}
	if done.RollbackLog == "" {
		t.Fatalf("failure must record rollback consideration")
	}
	if len(done.PreChecks) != 1 || done.PreChecks[0].Passed {
		t.Fatalf("failed outcome must be recorded: %+v", done.PreChecks)
	}
}

func TestOptionalPreCheckFailureDoesNotGate(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{deployed: map[string]string{}}
	scheduler, _ := newTestScheduler(deployer,
		[]Check{failingCheck("chain head readable", false), passingCheck("rpc reachable", true)}, nil)

	schedule, _ := scheduler.Create("fleet rollout")
	done, err := scheduler.Run(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != domain.ScheduleCompleted {
		t.Fatalf("optional check failures must not block, got %s", done.Status)
	}
	if deployer.calls != 1 {
		t.Fatalf("deployer must run exactly once, got %d", deployer.calls)
	}
	if done.PreChecks[0].Passed || done.PreChecks[0].Error == "" {
		t.Fatalf("optional failure must still be recorded: %+v", done.PreChecks[0])
	}
}

func TestDeployerFailureRecordsRollbackConsideration(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{err: errors.New("out of gas")}
	scheduler, _ := newTestScheduler(deployer, nil, nil)

	schedule, _ := scheduler.Create("fleet rollout")
	done, err := scheduler.Run(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != domain.ScheduleFailed {
		t.Fatalf("expected failed, got %s", done.Status)
	}
	if done.Error == "" || done.RollbackLog == "" {
		t.Fatalf("deployment failure must carry error and rollback record: %+v", done)
	}
}

func TestPostCheckFailureKeepsCompleted(t *testing.T) {
	t.Parallel()

	deployer := &fakeDeployer{deployed: map[string]string{}}
	scheduler, _ := newTestScheduler(deployer, nil,
		[]Check{failingCheck("balances readable", false)})

	schedule, _ := scheduler.Create("fleet rollout")
	done, err := scheduler.Run(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != domain.ScheduleCompleted {
		t.Fatalf("post-checks are advisory, got %s", done.Status)
	}
	if done.PostChecks[0].Passed {
		t.Fatalf("failed post-check must be recorded: %+v", done.PostChecks[0])
	}
}

func TestRestoreMarksInterruptedRuns(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	startedAt := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	interrupted := domain.Schedule{
		ID:        "sched-1",
		Name:      "fleet rollout",
		Status:    domain.ScheduleRunning,
		CreatedAt: startedAt,
		StartedAt: &startedAt,
	}
	if err := store.SaveSchedule(interrupted); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	if err := store.SaveSchedule(domain.Schedule{
		ID:        "sched-2",
		Name:      "second rollout",
		Status:    domain.ScheduleCompleted,
		CreatedAt: startedAt,
	}); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	clk := clock.NewManual(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	scheduler := New(&fakeDeployer{}, nil, nil, "", store, clk, nil)
	if err := scheduler.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	restored, err := scheduler.Get("sched-1")
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if restored.Status != domain.ScheduleFailed {
		t.Fatalf("interrupted run must restore as failed, got %s", restored.Status)
	}
	if restored.Error == "" {
		t.Fatalf("restored failure must carry a reason")
	}

	completed, err := scheduler.Get("sched-2")
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if completed.Status != domain.ScheduleCompleted {
		t.Fatalf("terminal schedules must restore unchanged, got %s", completed.Status)
	}
	if len(scheduler.List()) != 2 {
		t.Fatalf("all persisted schedules must be restored")
	}
}

func TestRunUnknownSchedule(t *testing.T) {
	t.Parallel()

	scheduler, _ := newTestScheduler(&fakeDeployer{}, nil, nil)
	if _, err := scheduler.Run(context.Background(), "ghost"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
