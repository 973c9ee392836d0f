package monitor

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"sentinel/internal/clock"
	"sentinel/internal/domain"
	"sentinel/internal/registry"

	"github.com/ethereum/go-ethereum/common"
)

const (
	offlineAfter   = time.Hour
	criticalErrors = 10
	warningErrors  = 5
)

// BalanceReader reads one account balance from the chain.
// Params: caller context and account address.
// Returns: balance in wei or transient chain error.
type BalanceReader interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// counters accumulates externally supplied activity per contract.
// Params: tx/error/gas counters and last observed activity time.
// Returns: mutable ingestion state folded into metrics on tick.
type counters struct {
	txCount      int64
	errorCount   int64
	gasUsage     int64
	lastActivity time.Time
}

// Monitor samples per-contract health on every tick.
// Params: registry, balance reader, counters, and latest metrics map.
// Returns: health metrics source for the alert engine and reports.
type Monitor struct {
	mu       sync.RWMutex
	registry *registry.Registry
	reader   BalanceReader
	logger   *slog.Logger
	clk      clock.Clock
	counters map[string]*counters
	metrics  map[string]domain.HealthMetrics
}

// New creates the health monitor for all registered contracts.
// Params: registry, balance reader, logger, and clock.
// Returns: initialized monitor with zeroed counters.
func New(reg *registry.Registry, reader BalanceReader, logger *slog.Logger, clk clock.Clock) *Monitor {
	monitor := &Monitor{
		registry: reg,
		reader:   reader,
		logger:   logger,
		clk:      clk,
		counters: make(map[string]*counters),
		metrics:  make(map[string]domain.HealthMetrics),
	}
	for _, name := range reg.Names() {
		monitor.counters[name] = &counters{}
	}
	return monitor
}

// Record folds one ingested activity event into contract counters.
// Params: validated activity event.
// Returns: true when the contract is registered and counters were updated.
func (m *Monitor) Record(event domain.ActivityEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.counters[event.Contract]
	if !ok {
		if m.logger != nil {
			m.logger.Warn("activity event for unregistered contract", "contract", event.Contract)
		}
		return false
	}
	switch event.Kind {
	case domain.ActivityTx:
		entry.txCount += event.Count
		entry.gasUsage += event.GasUsed
	case domain.ActivityError:
		entry.errorCount += event.Count
	}
	if eventTime := event.EventTime(); eventTime.After(entry.lastActivity) {
		entry.lastActivity = eventTime
	}
	return true
}

// Tick recomputes health metrics for every registered contract.
// Params: caller context for balance reads.
// Returns: fresh metrics snapshot in deterministic order.
func (m *Monitor) Tick(ctx context.Context) []domain.HealthMetrics {
	now := m.clk.Now()
	out := make([]domain.HealthMetrics, 0, len(m.counters))

	for _, target := range m.registry.Targets() {
		balance := m.lastBalance(target.Name)
		fresh, err := m.reader.Balance(ctx, target.Address)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("balance read failed", "contract", target.Name, "error", err.Error())
			}
		} else {
			balance = fresh
		}

		m.mu.Lock()
		entry := m.counters[target.Name]
		metrics := domain.HealthMetrics{
			ContractName:     target.Name,
			Balance:          balance,
			TxCount:          entry.txCount,
			LastActivityTime: entry.lastActivity,
			ErrorCount:       entry.errorCount,
			GasUsage:         entry.gasUsage,
		}
		metrics.Status = deriveStatus(metrics, now)
		metrics.Uptime = deriveUptime(metrics)
		m.metrics[target.Name] = metrics
		m.mu.Unlock()

		out = append(out, metrics)
	}
	return out
}

// lastBalance returns previously sampled balance for one contract.
// Params: contract name.
// Returns: last balance or nil before the first successful read.
func (m *Monitor) lastBalance(name string) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if metrics, ok := m.metrics[name]; ok {
		return metrics.Balance
	}
	return nil
}

// Snapshot returns latest metrics for all contracts.
// Params: none.
// Returns: metrics copies sorted by contract name.
func (m *Monitor) Snapshot() []domain.HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.HealthMetrics, 0, len(m.metrics))
	for _, metrics := range m.metrics {
		out = append(out, metrics)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ContractName < out[j].ContractName
	})
	return out
}

// Metrics returns latest metrics for one contract.
// Params: contract name.
// Returns: metrics copy and existence flag.
func (m *Monitor) Metrics(name string) (domain.HealthMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.metrics[name]
	return metrics, ok
}

// deriveStatus grades one metrics sample in fixed priority order.
// Params: metrics sample and current time.
// Returns: offline, critical, warning, or healthy.
func deriveStatus(metrics domain.HealthMetrics, now time.Time) domain.HealthStatus {
	if metrics.LastActivityTime.IsZero() || now.Sub(metrics.LastActivityTime) > offlineAfter {
		return domain.StatusOffline
	}
	if metrics.ErrorCount > criticalErrors {
		return domain.StatusCritical
	}
	if metrics.ErrorCount > warningErrors {
		return domain.StatusWarning
	}
	return domain.StatusHealthy
}

// deriveUptime estimates uptime percentage from error rate.
// Params: metrics sample.
// Returns: 100 minus error rate, clamped to [0,100].
func deriveUptime(metrics domain.HealthMetrics) float64 {
	txCount := metrics.TxCount
	if txCount < 1 {
		txCount = 1
	}
	errorRate := float64(metrics.ErrorCount) / float64(txCount) * 100
	uptime := 100 - errorRate
	if uptime < 0 {
		return 0
	}
	if uptime > 100 {
		return 100
	}
	return uptime
}
