package domain

import "time"

// IncidentStatus is incident lifecycle state.
// Params: detected/responding/contained/escalated/resolved constants.
// Returns: monotonic state machine positions for incident manager.
type IncidentStatus string

const (
	// IncidentDetected indicates incident was created and not yet acted on.
	IncidentDetected IncidentStatus = "detected"
	// IncidentResponding indicates automated response is in progress.
	IncidentResponding IncidentStatus = "responding"
	// IncidentContained indicates all planned actions completed.
	IncidentContained IncidentStatus = "contained"
	// IncidentEscalated indicates automation stopped and humans must take over.
	IncidentEscalated IncidentStatus = "escalated"
	// IncidentResolved indicates terminal manually-confirmed closure.
	IncidentResolved IncidentStatus = "resolved"
)

// IncidentType classifies the detected condition.
// Params: known attack/anomaly classes used by the action planner.
// Returns: planning decision-table key.
type IncidentType string

const (
	// IncidentExploit marks an active exploit against a contract.
	IncidentExploit IncidentType = "exploit"
	// IncidentGasAttack marks gas-price griefing conditions.
	IncidentGasAttack IncidentType = "gas_attack"
	// IncidentGovernanceAttack marks hostile governance activity.
	IncidentGovernanceAttack IncidentType = "governance_attack"
	// IncidentOracleManipulation marks manipulated price feeds.
	IncidentOracleManipulation IncidentType = "oracle_manipulation"
	// IncidentAnomaly marks unclassified anomalous behavior.
	IncidentAnomaly IncidentType = "anomaly"
)

// Severity grades alerts, incidents, and timeline entries.
// Params: info/warning/critical constants.
// Returns: shared severity scale across pipeline.
type Severity string

const (
	// SeverityInfo marks informational entries.
	SeverityInfo Severity = "info"
	// SeverityWarning marks degraded but recoverable conditions.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks conditions that demand response.
	SeverityCritical Severity = "critical"
)

// DetectionMethod records how an incident entered the system.
// Params: automated/manual/external constants.
// Returns: provenance label stored on the incident.
type DetectionMethod string

const (
	// DetectAutomated marks incidents raised by the alert engine.
	DetectAutomated DetectionMethod = "automated_monitoring"
	// DetectManual marks operator-reported incidents.
	DetectManual DetectionMethod = "manual"
	// DetectExternal marks incidents pushed by an external system.
	DetectExternal DetectionMethod = "external"
)

// ActionType is one remediation operation kind.
// Params: on-chain and procedural action constants.
// Returns: dispatch key for response-action handlers.
type ActionType string

const (
	// ActionPause pauses affected contracts.
	ActionPause ActionType = "pause"
	// ActionWithdraw triggers emergency withdrawal to the safe address.
	ActionWithdraw ActionType = "withdraw"
	// ActionTransferOwnership moves ownership to the recovery owner.
	ActionTransferOwnership ActionType = "transfer_ownership"
	// ActionNotify fans the incident out to notification channels.
	ActionNotify ActionType = "notify"
	// ActionInvestigate records a manual-investigation marker.
	ActionInvestigate ActionType = "investigate"
	// ActionEscalate records an explicit escalation marker.
	ActionEscalate ActionType = "escalate"
)

// ActionResult is terminal response-action outcome.
// Params: success/failed/partial constants.
// Returns: outcome recorded on every dispatched action.
type ActionResult string

const (
	// ActionSuccess indicates the handler completed.
	ActionSuccess ActionResult = "success"
	// ActionFailed indicates the handler returned an error.
	ActionFailed ActionResult = "failed"
	// ActionPartial indicates some per-contract attempts failed.
	ActionPartial ActionResult = "partial"
)

// TargetResult is one per-contract outcome inside a response action.
// Params: contract name, optional transaction hash, and captured error.
// Returns: explicit partial-failure record for action aggregation.
type TargetResult struct {
	Contract string `json:"contract"`
	TxHash   string `json:"tx_hash,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// ResponseAction is one dispatched remediation operation.
// Params: action identity, automation flag, execution markers, and outcome.
// Returns: immutable record appended to the incident exactly once.
type ResponseAction struct {
	ID         string         `json:"id"`
	Type       ActionType     `json:"type"`
	Automated  bool           `json:"automated"`
	Executed   bool           `json:"executed"`
	ExecutedAt *time.Time     `json:"executed_at,omitempty"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Targets    []TargetResult `json:"targets,omitempty"`
	Result     ActionResult   `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TimelineEvent is one append-only incident audit entry.
// Params: timestamp, short event label, free-form details, and severity.
// Returns: immutable timeline record; never mutated or reordered.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	Severity  Severity  `json:"severity"`
}

// Incident tracks one security/operational event through its lifecycle.
// Params: detection metadata, status, executed actions, and timeline.
// Returns: record owned exclusively by the incident manager.
type Incident struct {
	ID                string           `json:"id"`
	Timestamp         time.Time        `json:"timestamp"`
	Severity          Severity         `json:"severity"`
	Type              IncidentType     `json:"type"`
	Description       string           `json:"description"`
	AffectedContracts []string         `json:"affected_contracts,omitempty"`
	DetectionMethod   DetectionMethod  `json:"detection_method"`
	Status            IncidentStatus   `json:"status"`
	ResponseActions   []ResponseAction `json:"response_actions"`
	Timeline          []TimelineEvent  `json:"timeline"`
	EstimatedImpact   string           `json:"estimated_impact,omitempty"`
}

// Terminal reports whether incident status accepts no further transitions.
// Params: none.
// Returns: true for resolved incidents.
func (i Incident) Terminal() bool {
	return i.Status == IncidentResolved
}

// ExecutedActionCount counts actions with executed marker set.
// Params: none.
// Returns: number of executed response actions.
func (i Incident) ExecutedActionCount() int {
	executed := 0
	for _, action := range i.ResponseActions {
		if action.Executed {
			executed++
		}
	}
	return executed
}

// AutomationFlags gates which remediation classes may run unattended.
// Params: per-class enable switches from response config.
// Returns: pure planner input.
type AutomationFlags struct {
	PauseOnExploit            bool
	WithdrawOnCritical        bool
	TransferOwnershipOnBreach bool
}
