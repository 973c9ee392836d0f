package incident

import (
	"sentinel/internal/domain"
	"sentinel/internal/registry"
)

// PlannedAction is one planner output before execution.
// Params: action type and candidate contract names in plan order.
// Returns: pure planning record consumed by the manager.
type PlannedAction struct {
	Type       domain.ActionType
	Candidates []string
}

// PlanActions maps incident class and automation flags to response actions.
// Params: incident type, severity, automation flags, and affected targets.
// Returns: deterministic action list; notify is always planned last. Pure:
// no clocks, no io, no chain access.
func PlanActions(
	incidentType domain.IncidentType,
	severity domain.Severity,
	flags domain.AutomationFlags,
	targets []registry.Target,
) []PlannedAction {
	var plan []PlannedAction

	switch incidentType {
	case domain.IncidentExploit:
		if flags.PauseOnExploit {
			if candidates := withCapability(targets, registry.CapPause); len(candidates) > 0 {
				plan = append(plan, PlannedAction{Type: domain.ActionPause, Candidates: candidates})
			}
		}
		if flags.WithdrawOnCritical && severity == domain.SeverityCritical {
			if candidates := withCapability(targets, registry.CapWithdraw); len(candidates) > 0 {
				plan = append(plan, PlannedAction{Type: domain.ActionWithdraw, Candidates: candidates})
			}
		}
		if flags.TransferOwnershipOnBreach {
			if candidates := withCapability(targets, registry.CapTransferOwnership); len(candidates) > 0 {
				plan = append(plan, PlannedAction{Type: domain.ActionTransferOwnership, Candidates: candidates})
			}
		}
	case domain.IncidentGasAttack:
		candidates := filterTargets(targets, func(target registry.Target) bool {
			return !target.Critical && target.Has(registry.CapPause)
		})
		if len(candidates) > 0 {
			plan = append(plan, PlannedAction{Type: domain.ActionPause, Candidates: candidates})
		}
	case domain.IncidentGovernanceAttack:
		// On-chain governance responses stay manual: automation here can
		// lock out the legitimate owners. A notify scoped to the governance
		// surface goes out ahead of the general one.
		candidates := filterTargets(targets, func(target registry.Target) bool {
			return target.Governance
		})
		if len(candidates) > 0 {
			plan = append(plan, PlannedAction{Type: domain.ActionNotify, Candidates: candidates})
		}
	case domain.IncidentOracleManipulation:
		candidates := filterTargets(targets, func(target registry.Target) bool {
			return target.PriceDependent && target.Has(registry.CapPause)
		})
		if len(candidates) > 0 {
			plan = append(plan, PlannedAction{Type: domain.ActionPause, Candidates: candidates})
		}
	}

	plan = append(plan, PlannedAction{Type: domain.ActionNotify})
	return plan
}

// withCapability selects target names supporting one capability.
// Params: target list and required capability.
// Returns: matching names in input order.
func withCapability(targets []registry.Target, capability registry.Capability) []string {
	return filterTargets(targets, func(target registry.Target) bool {
		return target.Has(capability)
	})
}

// filterTargets selects target names by predicate.
// Params: target list and keep predicate.
// Returns: matching names in input order.
func filterTargets(targets []registry.Target, keep func(registry.Target) bool) []string {
	var out []string
	for _, target := range targets {
		if keep(target) {
			out = append(out, target.Name)
		}
	}
	return out
}
