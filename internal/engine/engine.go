package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"

	"github.com/google/uuid"
)

const globalScopeKey = "global"

// RuleScope separates per-contract rules from chain-wide rules.
// Params: contract or global constants.
// Returns: scope selector driving deduplication key shape.
type RuleScope string

const (
	// ScopeContract evaluates once per contract metrics sample.
	ScopeContract RuleScope = "contract"
	// ScopeGlobal evaluates once per chain-wide sample.
	ScopeGlobal RuleScope = "global"
)

// Rule is one configured alert condition with its cooldown.
// Params: stable id, severity, cooldown window, scope, predicate, and text builder.
// Returns: static rule evaluated on every engine pass.
type Rule struct {
	ID       string
	Severity domain.Severity
	Cooldown time.Duration
	Enabled  bool
	Scope    RuleScope

	// Predicate reports whether the rule condition currently holds.
	Predicate func(metrics domain.HealthMetrics, gasGwei float64) bool
	// Describe builds alert title and description for one firing.
	Describe func(metrics domain.HealthMetrics, gasGwei float64) (string, string)
}

// Engine evaluates rules against health metrics with cooldown dedup.
// Params: rule set, last-fired map, clock, and logger.
// Returns: alert source for the notification dispatcher.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	lastFired map[string]time.Time
	clk       clock.Clock
	logger    *slog.Logger
}

// New creates the engine over a fixed rule set.
// Params: rules, clock, and logger.
// Returns: initialized engine with empty firing history.
func New(rules []Rule, clk clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		rules:     rules,
		lastFired: make(map[string]time.Time),
		clk:       clk,
		logger:    logger,
	}
}

// EvaluateContracts runs contract-scoped rules over fresh metrics.
// Params: metrics samples from the latest monitoring tick.
// Returns: alerts that fired outside their cooldown windows.
func (e *Engine) EvaluateContracts(samples []domain.HealthMetrics) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var alerts []domain.Alert
	for _, sample := range samples {
		for _, rule := range e.rules {
			if rule.Scope != ScopeContract {
				continue
			}
			if alert, ok := e.fireLocked(rule, sample, 0, sample.ContractName); ok {
				alerts = append(alerts, alert)
			}
		}
	}
	return alerts
}

// EvaluateGas runs global rules against the current gas price.
// Params: gas price in gwei from the latest chain sample.
// Returns: alerts that fired outside their cooldown windows.
func (e *Engine) EvaluateGas(gasGwei float64) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var alerts []domain.Alert
	for _, rule := range e.rules {
		if rule.Scope != ScopeGlobal {
			continue
		}
		if alert, ok := e.fireLocked(rule, domain.HealthMetrics{}, gasGwei, globalScopeKey); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// fireLocked checks one rule and records the firing time when it passes.
// Params: rule, metrics sample, gas price, and dedup scope key.
// Returns: built alert and firing flag. Caller must hold the mutex.
func (e *Engine) fireLocked(rule Rule, metrics domain.HealthMetrics, gasGwei float64, scopeKey string) (domain.Alert, bool) {
	if !rule.Enabled {
		return domain.Alert{}, false
	}
	if !rule.Predicate(metrics, gasGwei) {
		return domain.Alert{}, false
	}
	now := e.clk.Now()
	dedupKey := rule.ID + "|" + scopeKey
	if last, ok := e.lastFired[dedupKey]; ok && now.Sub(last) < rule.Cooldown {
		return domain.Alert{}, false
	}
	e.lastFired[dedupKey] = now

	title, description := rule.Describe(metrics, gasGwei)
	alert := domain.Alert{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		Contract:    metrics.ContractName,
		Title:       title,
		Description: description,
		Severity:    rule.Severity,
		Timestamp:   now,
	}
	if e.logger != nil {
		e.logger.Info("alert fired",
			"rule", rule.ID, "contract", scopeKey, "severity", string(rule.Severity))
	}
	return alert, true
}

// StandardRules builds the built-in rule set from threshold config.
// Params: normalized rules section.
// Returns: five standard rules with configured thresholds and cooldowns.
func StandardRules(cfg config.RulesConfig) []Rule {
	lowBalanceWei := cfg.LowBalanceWei()
	return []Rule{
		{
			ID:       "high_gas_price",
			Severity: domain.SeverityWarning,
			Cooldown: time.Duration(cfg.GasWarningCooldownMS) * time.Millisecond,
			Enabled:  !cfg.RuleDisabled("high_gas_price"),
			Scope:    ScopeGlobal,
			Predicate: func(_ domain.HealthMetrics, gasGwei float64) bool {
				return gasGwei > cfg.GasWarningGwei && gasGwei <= cfg.GasCriticalGwei
			},
			Describe: func(_ domain.HealthMetrics, gasGwei float64) (string, string) {
				return "High gas price",
					fmt.Sprintf("gas price %.2f gwei is above the %.2f gwei warning threshold", gasGwei, cfg.GasWarningGwei)
			},
		},
		{
			ID:       "critical_gas_price",
			Severity: domain.SeverityCritical,
			Cooldown: time.Duration(cfg.GasCriticalCooldownMS) * time.Millisecond,
			Enabled:  !cfg.RuleDisabled("critical_gas_price"),
			Scope:    ScopeGlobal,
			Predicate: func(_ domain.HealthMetrics, gasGwei float64) bool {
				return gasGwei > cfg.GasCriticalGwei
			},
			Describe: func(_ domain.HealthMetrics, gasGwei float64) (string, string) {
				return "Critical gas price",
					fmt.Sprintf("gas price %.2f gwei is above the %.2f gwei critical threshold, possible gas attack", gasGwei, cfg.GasCriticalGwei)
			},
		},
		{
			ID:       "low_balance",
			Severity: domain.SeverityWarning,
			Cooldown: time.Duration(cfg.LowBalanceCooldownMS) * time.Millisecond,
			Enabled:  !cfg.RuleDisabled("low_balance"),
			Scope:    ScopeContract,
			Predicate: func(metrics domain.HealthMetrics, _ float64) bool {
				return metrics.Balance != nil && metrics.Balance.Cmp(lowBalanceWei) < 0
			},
			Describe: func(metrics domain.HealthMetrics, _ float64) (string, string) {
				return "Low contract balance",
					fmt.Sprintf("contract %s balance %s wei is below the %.4f eth threshold",
						metrics.ContractName, metrics.Balance.String(), cfg.LowBalanceEth)
			},
		},
		{
			ID:       "high_error_rate",
			Severity: domain.SeverityWarning,
			Cooldown: time.Duration(cfg.ErrorRateCooldownMS) * time.Millisecond,
			Enabled:  !cfg.RuleDisabled("high_error_rate"),
			Scope:    ScopeContract,
			Predicate: func(metrics domain.HealthMetrics, _ float64) bool {
				txCount := metrics.TxCount
				if txCount < 1 {
					txCount = 1
				}
				rate := float64(metrics.ErrorCount) / float64(txCount) * 100
				return metrics.ErrorCount > 0 && rate > cfg.ErrorRatePct
			},
			Describe: func(metrics domain.HealthMetrics, _ float64) (string, string) {
				return "High error rate",
					fmt.Sprintf("contract %s reported %d errors over %d transactions",
						metrics.ContractName, metrics.ErrorCount, metrics.TxCount)
			},
		},
		{
			ID:       "contract_offline",
			Severity: domain.SeverityCritical,
			Cooldown: time.Duration(cfg.OfflineCooldownMS) * time.Millisecond,
			Enabled:  !cfg.RuleDisabled("contract_offline"),
			Scope:    ScopeContract,
			Predicate: func(metrics domain.HealthMetrics, _ float64) bool {
				return metrics.Status == domain.StatusOffline
			},
			Describe: func(metrics domain.HealthMetrics, _ float64) (string, string) {
				return "Contract offline",
					fmt.Sprintf("contract %s has shown no activity for over an hour", metrics.ContractName)
			},
		},
	}
}
