package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/monitor"
	"sentinel/internal/registry"
	"sentinel/internal/report"
)

func TestMonitoringReportWritesArtifacts(t *testing.T) {
	t.Parallel()

	reg, err := registry.New(map[string]config.ContractConfig{
		"vault": {Address: "0x1111111111111111111111111111111111111111"},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	clk := clock.NewManual(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	mon := monitor.New(reg, nil, nil, clk)
	mon.Record(domain.ActivityEvent{
		DT:       clk.Now().UnixMilli(),
		Contract: "vault",
		Kind:     domain.ActivityTx,
		Count:    3,
		GasUsed:  21000,
	})

	dir := t.TempDir()
	reports, err := report.NewWriter(dir)
	if err != nil {
		t.Fatalf("new report writer: %v", err)
	}

	service := &Service{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   clk,
		monitor: mon,
		reports: reports,
	}
	service.cfg.Service.Network = "mainnet"
	service.monitoringReport()

	jsonArtifacts, err := filepath.Glob(filepath.Join(dir, "monitoring-*.json"))
	if err != nil {
		t.Fatalf("glob json artifacts: %v", err)
	}
	if len(jsonArtifacts) != 1 {
		t.Fatalf("expected one monitoring json artifact, got %v", jsonArtifacts)
	}
	markdownArtifacts, err := filepath.Glob(filepath.Join(dir, "monitoring-*.md"))
	if err != nil {
		t.Fatalf("glob markdown artifacts: %v", err)
	}
	if len(markdownArtifacts) != 1 {
		t.Fatalf("expected one monitoring markdown artifact, got %v", markdownArtifacts)
	}
}
