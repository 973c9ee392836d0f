package incident

import (
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/registry"
)

func planTargets(t *testing.T) []registry.Target {
	t.Helper()
	reg, err := registry.New(map[string]config.ContractConfig{
		"vault": {
			Address:      "0x1111111111111111111111111111111111111111",
			Capabilities: []string{config.CapabilityPause, config.CapabilityWithdraw, config.CapabilityTransferOwnership},
			Critical:     true,
		},
		"oracle": {
			Address:        "0x2222222222222222222222222222222222222222",
			Capabilities:   []string{config.CapabilityPause},
			PriceDependent: true,
		},
		"governor": {
			Address:    "0x3333333333333333333333333333333333333333",
			Governance: true,
		},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg.Targets()
}

func allFlags() domain.AutomationFlags {
	return domain.AutomationFlags{
		PauseOnExploit:            true,
		WithdrawOnCritical:        true,
		TransferOwnershipOnBreach: true,
	}
}

func actionTypes(plan []PlannedAction) []domain.ActionType {
	out := make([]domain.ActionType, 0, len(plan))
	for _, planned := range plan {
		out = append(out, planned.Type)
	}
	return out
}

func TestPlanExploitCritical(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentExploit, domain.SeverityCritical, allFlags(), planTargets(t))
	want := []domain.ActionType{domain.ActionPause, domain.ActionWithdraw, domain.ActionTransferOwnership, domain.ActionNotify}
	got := actionTypes(plan)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestPlanExploitWarningSkipsWithdraw(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentExploit, domain.SeverityWarning, allFlags(), planTargets(t))
	for _, planned := range plan {
		if planned.Type == domain.ActionWithdraw {
			t.Fatalf("withdraw must require critical severity: %v", actionTypes(plan))
		}
	}
}

func TestPlanExploitHonorsFlags(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentExploit, domain.SeverityCritical, domain.AutomationFlags{}, planTargets(t))
	if len(plan) != 1 || plan[0].Type != domain.ActionNotify {
		t.Fatalf("with automation off only notify remains, got %v", actionTypes(plan))
	}
}

func TestPlanGasAttackPausesNonCriticalOnly(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentGasAttack, domain.SeverityCritical, allFlags(), planTargets(t))
	if plan[0].Type != domain.ActionPause {
		t.Fatalf("expected pause first, got %v", actionTypes(plan))
	}
	if len(plan[0].Candidates) != 1 || plan[0].Candidates[0] != "oracle" {
		t.Fatalf("gas attack must spare critical contracts, got %v", plan[0].Candidates)
	}
}

func TestPlanGovernanceAttackNotifiesGovernanceSurface(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentGovernanceAttack, domain.SeverityCritical, allFlags(), planTargets(t))
	if len(plan) != 2 {
		t.Fatalf("expected governance notify plus general notify, got %v", actionTypes(plan))
	}
	for _, planned := range plan {
		if planned.Type != domain.ActionNotify {
			t.Fatalf("governance attacks must not plan on-chain actions, got %v", actionTypes(plan))
		}
	}
	if len(plan[0].Candidates) != 1 || plan[0].Candidates[0] != "governor" {
		t.Fatalf("first notify must be scoped to governance contracts, got %v", plan[0].Candidates)
	}
	if len(plan[1].Candidates) != 0 {
		t.Fatalf("trailing notify must stay unscoped, got %v", plan[1].Candidates)
	}
}

func TestPlanOracleManipulationPausesPriceDependent(t *testing.T) {
	t.Parallel()

	plan := PlanActions(domain.IncidentOracleManipulation, domain.SeverityCritical, allFlags(), planTargets(t))
	if plan[0].Type != domain.ActionPause {
		t.Fatalf("expected pause first, got %v", actionTypes(plan))
	}
	if len(plan[0].Candidates) != 1 || plan[0].Candidates[0] != "oracle" {
		t.Fatalf("only price-dependent contracts qualify, got %v", plan[0].Candidates)
	}
}

func TestPlanAlwaysEndsWithNotify(t *testing.T) {
	t.Parallel()

	types := []domain.IncidentType{
		domain.IncidentExploit,
		domain.IncidentGasAttack,
		domain.IncidentGovernanceAttack,
		domain.IncidentOracleManipulation,
		domain.IncidentAnomaly,
	}
	for _, incidentType := range types {
		plan := PlanActions(incidentType, domain.SeverityCritical, allFlags(), planTargets(t))
		if len(plan) == 0 || plan[len(plan)-1].Type != domain.ActionNotify {
			t.Fatalf("%s: plan must end with notify, got %v", incidentType, actionTypes(plan))
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	t.Parallel()

	targets := planTargets(t)
	first := PlanActions(domain.IncidentExploit, domain.SeverityCritical, allFlags(), targets)
	second := PlanActions(domain.IncidentExploit, domain.SeverityCritical, allFlags(), targets)
	if len(first) != len(second) {
		t.Fatalf("plans differ in length: %v vs %v", actionTypes(first), actionTypes(second))
	}
	for i := range first {
		if first[i].Type != second[i].Type || len(first[i].Candidates) != len(second[i].Candidates) {
			t.Fatalf("plans differ at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}
