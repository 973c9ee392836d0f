package engine

import (
	"math/big"
	"testing"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
)

func testRules() config.RulesConfig {
	return config.RulesConfig{
		GasWarningGwei:        50,
		GasCriticalGwei:       100,
		LowBalanceEth:         0.1,
		ErrorRatePct:          10,
		GasWarningCooldownMS:  300_000,
		GasCriticalCooldownMS: 600_000,
		LowBalanceCooldownMS:  3_600_000,
		ErrorRateCooldownMS:   600_000,
		OfflineCooldownMS:     600_000,
	}
}

func eth(value float64) *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(value), big.NewFloat(1e18))
	out, _ := wei.Int(nil)
	return out
}

func TestCooldownSuppressesRepeatFirings(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	eng := New(StandardRules(testRules()), clk, nil)

	first := eng.EvaluateGas(120)
	if len(first) != 1 || first[0].RuleID != "critical_gas_price" {
		t.Fatalf("expected one critical gas alert, got %+v", first)
	}

	// Same condition inside the cooldown window stays silent.
	clk.Advance(time.Minute)
	if again := eng.EvaluateGas(130); len(again) != 0 {
		t.Fatalf("expected cooldown suppression, got %+v", again)
	}

	// Past the window the rule fires again.
	clk.Advance(10 * time.Minute)
	refire := eng.EvaluateGas(130)
	if len(refire) != 1 {
		t.Fatalf("expected refire after cooldown, got %+v", refire)
	}
	if refire[0].ID == first[0].ID {
		t.Fatalf("each firing must carry a fresh alert id")
	}
}

func TestCooldownIsPerContract(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	eng := New(StandardRules(testRules()), clk, nil)

	lowVault := domain.HealthMetrics{ContractName: "vault", Balance: eth(0.01), LastActivityTime: clk.Now(), TxCount: 1}
	lowOracle := domain.HealthMetrics{ContractName: "oracle", Balance: eth(0.02), LastActivityTime: clk.Now(), TxCount: 1}

	first := eng.EvaluateContracts([]domain.HealthMetrics{lowVault})
	if countRule(first, "low_balance") != 1 {
		t.Fatalf("expected vault low_balance alert, got %+v", first)
	}

	// A different contract fires independently inside vault's window.
	second := eng.EvaluateContracts([]domain.HealthMetrics{lowVault, lowOracle})
	if countRule(second, "low_balance") != 1 {
		t.Fatalf("expected only oracle to fire, got %+v", second)
	}
	if second[0].Contract != "oracle" {
		t.Fatalf("expected oracle alert, got %q", second[0].Contract)
	}
}

func TestGasWarningAndCriticalAreExclusive(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	eng := New(StandardRules(testRules()), clk, nil)

	warn := eng.EvaluateGas(75)
	if len(warn) != 1 || warn[0].RuleID != "high_gas_price" {
		t.Fatalf("expected warning-band alert, got %+v", warn)
	}
	if warn[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected warning severity, got %s", warn[0].Severity)
	}

	clk.Advance(time.Hour)
	critical := eng.EvaluateGas(150)
	if len(critical) != 1 || critical[0].RuleID != "critical_gas_price" {
		t.Fatalf("expected only critical alert above the critical band, got %+v", critical)
	}
}

func TestContractRules(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	eng := New(StandardRules(testRules()), clk, nil)

	metrics := domain.HealthMetrics{
		ContractName:     "vault",
		Balance:          eth(5),
		TxCount:          100,
		ErrorCount:       20,
		LastActivityTime: clk.Now().Add(-2 * time.Hour),
		Status:           domain.StatusOffline,
	}
	alerts := eng.EvaluateContracts([]domain.HealthMetrics{metrics})
	if countRule(alerts, "high_error_rate") != 1 {
		t.Fatalf("expected high_error_rate alert, got %+v", alerts)
	}
	for _, alert := range alerts {
		if alert.RuleID == "high_error_rate" && alert.Severity != domain.SeverityWarning {
			t.Fatalf("high_error_rate must be a warning, got %s", alert.Severity)
		}
	}
	if countRule(alerts, "contract_offline") != 1 {
		t.Fatalf("expected contract_offline alert, got %+v", alerts)
	}
	if countRule(alerts, "low_balance") != 0 {
		t.Fatalf("healthy balance must not fire low_balance, got %+v", alerts)
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	t.Parallel()

	rules := testRules()
	rules.Disabled = []string{"critical_gas_price"}
	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	eng := New(StandardRules(rules), clk, nil)

	if alerts := eng.EvaluateGas(500); len(alerts) != 0 {
		t.Fatalf("disabled rule must stay silent, got %+v", alerts)
	}
}

func countRule(alerts []domain.Alert, ruleID string) int {
	count := 0
	for _, alert := range alerts {
		if alert.RuleID == ruleID {
			count++
		}
	}
	return count
}
