package domain

import (
	"math/big"
	"time"
)

// HealthStatus is derived per-contract health grade.
// Params: healthy/warning/critical/offline constants.
// Returns: status used by alert rules and reports.
type HealthStatus string

const (
	// StatusHealthy indicates no anomaly markers.
	StatusHealthy HealthStatus = "healthy"
	// StatusWarning indicates elevated error counters.
	StatusWarning HealthStatus = "warning"
	// StatusCritical indicates error counters above the critical threshold.
	StatusCritical HealthStatus = "critical"
	// StatusOffline indicates no observed activity for the offline window.
	StatusOffline HealthStatus = "offline"
)

// HealthMetrics is the latest monitoring sample for one contract.
// Params: balance/activity/error counters and derived status fields.
// Returns: latest-only value; history is not retained between ticks.
type HealthMetrics struct {
	ContractName     string       `json:"contract_name"`
	Balance          *big.Int     `json:"balance"`
	TxCount          int64        `json:"tx_count"`
	LastActivityTime time.Time    `json:"last_activity_time"`
	ErrorCount       int64        `json:"error_count"`
	GasUsage         int64        `json:"gas_usage"`
	Status           HealthStatus `json:"status"`
	Uptime           float64      `json:"uptime"`
}

// Alert is one emitted anomaly notification.
// Params: identity, human-readable title/description, severity, and source rule.
// Returns: immutable alert payload for the notification dispatcher.
type Alert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	Contract    string    `json:"contract,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}
