package state

import (
	"errors"
	"testing"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/faults"
)

func testIncident(id string, detectedAt time.Time) domain.Incident {
	return domain.Incident{
		ID:                id,
		Timestamp:         detectedAt,
		Severity:          domain.SeverityCritical,
		Type:              domain.IncidentExploit,
		Description:       "drain in progress",
		AffectedContracts: []string{"vault"},
		DetectionMethod:   domain.DetectExternal,
		Status:            domain.IncidentDetected,
		Timeline: []domain.TimelineEvent{
			{Timestamp: detectedAt, Event: "incident detected", Severity: domain.SeverityCritical},
		},
	}
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	badgerStore, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	t.Cleanup(func() {
		if err := badgerStore.Close(); err != nil {
			t.Errorf("close badger store: %v", err)
		}
	})
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": badgerStore,
	}
}

func TestIncidentRoundtrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			detectedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			if err := store.SaveIncident(testIncident("inc-1", detectedAt)); err != nil {
				t.Fatalf("save incident: %v", err)
			}

			loaded, err := store.GetIncident("inc-1")
			if err != nil {
				t.Fatalf("get incident: %v", err)
			}
			if loaded.Type != domain.IncidentExploit || len(loaded.Timeline) != 1 {
				t.Fatalf("incident fields lost: %+v", loaded)
			}
			if !loaded.Timestamp.Equal(detectedAt) {
				t.Fatalf("timestamp drift: %v", loaded.Timestamp)
			}
		})
	}
}

func TestGetIncidentMissReturnsNotFound(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.GetIncident("ghost"); !errors.Is(err, faults.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.GetSchedule("ghost"); !errors.Is(err, faults.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for schedules, got %v", err)
			}
		})
	}
}

func TestListIncidentsOrdersByDetectionTime(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			if err := store.SaveIncident(testIncident("later", base.Add(time.Hour))); err != nil {
				t.Fatalf("save incident: %v", err)
			}
			if err := store.SaveIncident(testIncident("earlier", base)); err != nil {
				t.Fatalf("save incident: %v", err)
			}

			incidents, err := store.ListIncidents()
			if err != nil {
				t.Fatalf("list incidents: %v", err)
			}
			if len(incidents) != 2 || incidents[0].ID != "earlier" {
				t.Fatalf("unexpected order: %+v", incidents)
			}
		})
	}
}

func TestAuditTrailIsAppendOnlyAndOrdered(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				record := AuditRecord{
					Timestamp:  now.Add(time.Duration(i) * time.Minute),
					IncidentID: "inc-1",
					ActionType: domain.ActionPause,
					Automated:  true,
					Result:     domain.ActionSuccess,
				}
				if err := store.AppendAudit(record); err != nil {
					t.Fatalf("append audit: %v", err)
				}
			}

			records, err := store.ListAudit()
			if err != nil {
				t.Fatalf("list audit: %v", err)
			}
			if len(records) != 3 {
				t.Fatalf("expected 3 records, got %d", len(records))
			}
			for i := 1; i < len(records); i++ {
				if records[i].Seq <= records[i-1].Seq {
					t.Fatalf("sequence must be strictly increasing: %+v", records)
				}
			}
		})
	}
}

func TestScheduleRoundtrip(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			createdAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			schedule := domain.Schedule{
				ID:        "sched-1",
				Name:      "fleet rollout",
				Status:    domain.ScheduleCompleted,
				CreatedAt: createdAt,
				Deployed:  map[string]string{"vault": "0x1111111111111111111111111111111111111111"},
				PreChecks: []domain.CheckOutcome{{Name: "rpc reachable", Required: true, Passed: true}},
			}
			if err := store.SaveSchedule(schedule); err != nil {
				t.Fatalf("save schedule: %v", err)
			}

			loaded, err := store.GetSchedule("sched-1")
			if err != nil {
				t.Fatalf("get schedule: %v", err)
			}
			if loaded.Deployed["vault"] == "" || len(loaded.PreChecks) != 1 {
				t.Fatalf("schedule fields lost: %+v", loaded)
			}
		})
	}
}

func TestMemoryStoreClonesOnReadAndWrite(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	incident := testIncident("inc-1", time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	if err := store.SaveIncident(incident); err != nil {
		t.Fatalf("save incident: %v", err)
	}

	// Mutating the caller copy must not leak into the store.
	incident.Timeline[0].Event = "tampered"
	loaded, err := store.GetIncident("inc-1")
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if loaded.Timeline[0].Event != "incident detected" {
		t.Fatalf("stored incident shares memory with caller")
	}

	// Mutating a read copy must not leak either.
	loaded.AffectedContracts[0] = "tampered"
	again, _ := store.GetIncident("inc-1")
	if again.AffectedContracts[0] != "vault" {
		t.Fatalf("read copies must be independent")
	}
}
