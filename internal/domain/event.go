package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActivityKind identifies incoming activity event shape.
// Params: constants "tx" or "error".
// Returns: normalized counter target across pipeline.
type ActivityKind string

const (
	// ActivityTx marks observed contract transactions.
	ActivityTx ActivityKind = "tx"
	// ActivityError marks observed contract call failures.
	ActivityError ActivityKind = "error"
)

// ActivityEvent is one normalized contract activity sample from ingest.
// Params: event timestamp, target contract, counter kind, count, and gas used.
// Returns: validated payload feeding health-monitor counters.
type ActivityEvent struct {
	DT       int64        `json:"dt"`
	Contract string       `json:"contract"`
	Kind     ActivityKind `json:"kind"`
	Count    int64        `json:"count"`
	GasUsed  int64        `json:"gas_used"`
}

// EventTime converts milliseconds unix timestamp into UTC time.
// Params: event timestamp in unix milliseconds.
// Returns: converted UTC time.
func (e ActivityEvent) EventTime() time.Time {
	return time.UnixMilli(e.DT).UTC()
}

// DecodeActivityEvent decodes and validates one activity payload.
// Params: JSON document bytes.
// Returns: validated event or decode/validation error.
func DecodeActivityEvent(raw []byte) (ActivityEvent, error) {
	var event ActivityEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return ActivityEvent{}, fmt.Errorf("decode activity event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return ActivityEvent{}, err
	}
	return event, nil
}

// DecodeActivityEvents decodes and validates one batch of activity events.
// Params: JSON array bytes.
// Returns: validated events slice or decode/validation error.
func DecodeActivityEvents(raw []byte) ([]ActivityEvent, error) {
	var events []ActivityEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("decode activity batch: %w", err)
	}
	if len(events) == 0 {
		return nil, errors.New("activity batch must contain at least one event")
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
	}
	return events, nil
}

// Validate validates one activity event against the contract.
// Params: event fields parsed from transport.
// Returns: validation error when schema is violated.
func (e ActivityEvent) Validate() error {
	if e.DT <= 0 {
		return errors.New("dt must be >0")
	}
	if strings.TrimSpace(e.Contract) == "" {
		return errors.New("contract is required")
	}
	switch e.Kind {
	case ActivityTx, ActivityError:
	default:
		return fmt.Errorf("unsupported kind %q", e.Kind)
	}
	if e.Count < 1 {
		return errors.New("count must be >=1")
	}
	if e.GasUsed < 0 {
		return errors.New("gas_used must be >=0")
	}
	if e.Kind == ActivityError && e.GasUsed != 0 {
		return errors.New("gas_used must be 0 for kind=error")
	}
	return nil
}

// IncidentReport is one externally submitted incident trigger.
// Params: classification, severity, description, and affected contract names.
// Returns: validated manual/external detection request.
type IncidentReport struct {
	Type              IncidentType `json:"type"`
	Severity          Severity     `json:"severity"`
	Description       string       `json:"description"`
	AffectedContracts []string     `json:"affected_contracts,omitempty"`
	EstimatedImpact   string       `json:"estimated_impact,omitempty"`
}

// DecodeIncidentReport decodes and validates one incident trigger payload.
// Params: JSON document bytes.
// Returns: validated report or decode/validation error.
func DecodeIncidentReport(raw []byte) (IncidentReport, error) {
	var report IncidentReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return IncidentReport{}, fmt.Errorf("decode incident report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return IncidentReport{}, err
	}
	return report, nil
}

// Validate validates one incident trigger against the contract.
// Params: report fields parsed from transport.
// Returns: validation error when schema is violated.
func (r IncidentReport) Validate() error {
	switch r.Type {
	case IncidentExploit, IncidentGasAttack, IncidentGovernanceAttack, IncidentOracleManipulation, IncidentAnomaly:
	default:
		return fmt.Errorf("unsupported incident type %q", r.Type)
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("unsupported severity %q", r.Severity)
	}
	if strings.TrimSpace(r.Description) == "" {
		return errors.New("description is required")
	}
	return nil
}
