package domain

import (
	"testing"
)

func TestDecodeActivityEvent(t *testing.T) {
	t.Parallel()

	event, err := DecodeActivityEvent([]byte(validActivityJSON("vault", "tx")))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Contract != "vault" {
		t.Fatalf("unexpected contract %q", event.Contract)
	}
	if event.EventTime().IsZero() {
		t.Fatalf("expected non-zero event time")
	}
}

func TestDecodeActivityEventsBatch(t *testing.T) {
	t.Parallel()

	payload := "[" + validActivityJSON("vault", "tx") + "," + validActivityJSON("oracle", "tx") + "]"
	events, err := DecodeActivityEvents([]byte(payload))
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestDecodeActivityEventsRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	if _, err := DecodeActivityEvents([]byte("[]")); err == nil {
		t.Fatalf("expected error for empty batch")
	}
}

func TestActivityEventValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		event ActivityEvent
		valid bool
	}{
		{"valid tx", ActivityEvent{DT: 1739876543210, Contract: "vault", Kind: ActivityTx, Count: 1, GasUsed: 21000}, true},
		{"valid error", ActivityEvent{DT: 1739876543210, Contract: "vault", Kind: ActivityError, Count: 2}, true},
		{"zero dt", ActivityEvent{Contract: "vault", Kind: ActivityTx, Count: 1}, false},
		{"missing contract", ActivityEvent{DT: 1, Kind: ActivityTx, Count: 1}, false},
		{"bad kind", ActivityEvent{DT: 1, Contract: "vault", Kind: "deploy", Count: 1}, false},
		{"zero count", ActivityEvent{DT: 1, Contract: "vault", Kind: ActivityTx}, false},
		{"gas on error", ActivityEvent{DT: 1, Contract: "vault", Kind: ActivityError, Count: 1, GasUsed: 5}, false},
	}
	for _, tc := range cases {
		err := tc.event.Validate()
		if tc.valid && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestDecodeIncidentReport(t *testing.T) {
	t.Parallel()

	payload := `{"type":"exploit","severity":"critical","description":"drain in progress","affected_contracts":["vault"]}`
	incidentReport, err := DecodeIncidentReport([]byte(payload))
	if err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if incidentReport.Type != IncidentExploit {
		t.Fatalf("unexpected type %q", incidentReport.Type)
	}
}

func TestDecodeIncidentReportRejectsUnknownType(t *testing.T) {
	t.Parallel()

	payload := `{"type":"meteor","severity":"critical","description":"x"}`
	if _, err := DecodeIncidentReport([]byte(payload)); err == nil {
		t.Fatalf("expected error for unknown incident type")
	}
	if _, err := DecodeIncidentReport([]byte(`{"type":"exploit","severity":"critical","description":"  "}`)); err == nil {
		t.Fatalf("expected error for blank description")
	}
}

func validActivityJSON(contract, kind string) string {
	return `{"dt":1739876543210,"contract":"` + contract + `","kind":"` + kind + `","count":1,"gas_used":21000}`
}
