package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"sentinel/internal/chain"
	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/domain"
	"sentinel/internal/faults"
	"sentinel/internal/notify"
	"sentinel/internal/registry"
	"sentinel/internal/report"
	"sentinel/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ChainWriter submits response transactions and waits for confirmations.
// Params: none.
// Returns: narrow write surface satisfied by chain.Connector.
type ChainWriter interface {
	Invoke(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitForConfirmations(ctx context.Context, txHash common.Hash) error
}

// Notifier fans one payload out to configured channels.
// Params: none.
// Returns: dispatch surface satisfied by notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, payload notify.Payload) []notify.DeliveryResult
}

// Manager owns the incident lifecycle and automated response pipeline.
// Params: response config, collaborators, and mutex-guarded incident state.
// Returns: single writer for all incident records.
type Manager struct {
	mu            sync.Mutex
	flags         domain.AutomationFlags
	maxActions    int
	safeAddress   common.Address
	recoveryOwner common.Address
	network       string

	logger   *slog.Logger
	clk      clock.Clock
	registry *registry.Registry
	writer   ChainWriter
	notifier Notifier
	store    state.Store
	reports  *report.Writer

	incidents   map[string]*domain.Incident
	inFlight    map[string]bool
	paused      map[string]bool
	actionCount int
}

// NewManager wires the incident manager from validated config.
// Params: response+chain config sections, network label, and collaborators.
// Returns: initialized manager with zero executed actions.
func NewManager(
	response config.ResponseConfig,
	chainCfg config.ChainConfig,
	network string,
	reg *registry.Registry,
	writer ChainWriter,
	notifier Notifier,
	store state.Store,
	reports *report.Writer,
	clk clock.Clock,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		flags: domain.AutomationFlags{
			PauseOnExploit:            response.PauseOnExploit,
			WithdrawOnCritical:        response.WithdrawOnCritical,
			TransferOwnershipOnBreach: response.TransferOwnershipOnBreach,
		},
		maxActions:    response.MaxAutomatedActions,
		safeAddress:   common.HexToAddress(chainCfg.SafeAddress),
		recoveryOwner: common.HexToAddress(chainCfg.RecoveryOwner),
		network:       network,
		logger:        logger,
		clk:           clk,
		registry:      reg,
		writer:        writer,
		notifier:      notifier,
		store:         store,
		reports:       reports,
		incidents:     make(map[string]*domain.Incident),
		inFlight:      make(map[string]bool),
		paused:        make(map[string]bool),
	}
}

// Detect registers one incident and runs the automated response pipeline.
// Params: context, validated incident report, and detection provenance.
// Returns: incident snapshot after the response pipeline settles.
func (m *Manager) Detect(ctx context.Context, incidentReport domain.IncidentReport, method domain.DetectionMethod) (domain.Incident, error) {
	now := m.clk.Now()
	incident := &domain.Incident{
		ID:                uuid.NewString(),
		Timestamp:         now,
		Severity:          incidentReport.Severity,
		Type:              incidentReport.Type,
		Description:       incidentReport.Description,
		AffectedContracts: append([]string(nil), incidentReport.AffectedContracts...),
		DetectionMethod:   method,
		Status:            domain.IncidentDetected,
		EstimatedImpact:   incidentReport.EstimatedImpact,
	}
	incident.Timeline = append(incident.Timeline, domain.TimelineEvent{
		Timestamp: now,
		Event:     "incident detected",
		Details:   incident.Description,
		Severity:  domain.SeverityCritical,
	})

	m.mu.Lock()
	m.incidents[incident.ID] = incident
	m.inFlight[incident.ID] = true
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Error("incident detected",
			"incident", incident.ID, "type", string(incident.Type), "severity", string(incident.Severity))
	}
	m.persist(incident)

	m.respond(ctx, incident)

	m.mu.Lock()
	delete(m.inFlight, incident.ID)
	snapshot := cloneIncident(*incident)
	m.mu.Unlock()
	return snapshot, nil
}

// respond executes the planned action sequence for one incident.
// Params: context and incident owned by this manager.
// Returns: incident advanced to contained or escalated and persisted.
func (m *Manager) respond(ctx context.Context, incident *domain.Incident) {
	m.transition(incident, domain.IncidentResponding, "automated response started", "", domain.SeverityInfo)

	plan := PlanActions(incident.Type, incident.Severity, m.flags, m.affectedTargets(incident))
	for _, planned := range plan {
		if m.budgetExhausted(planned) {
			m.transition(incident, domain.IncidentEscalated,
				"automation budget exhausted",
				fmt.Sprintf("%d automated actions already executed, remaining plan abandoned", m.executedActions()),
				domain.SeverityCritical)
			m.notifyIncident(ctx, incident, nil)
			m.persist(incident)
			return
		}
		action := m.executeAction(ctx, incident, planned)
		incident.ResponseActions = append(incident.ResponseActions, action)
		m.recordAudit(incident, action)
		m.appendActionTimeline(incident, action)
		m.persist(incident)
	}

	if incident.Status == domain.IncidentResponding {
		m.transition(incident, domain.IncidentContained, "incident contained", "all planned actions processed", domain.SeverityInfo)
		m.persist(incident)
	}
}

// budgetExhausted reports whether one planned action may still run.
// Params: planned action.
// Returns: true when the global automated budget is spent and the
// action would consume it. Notify never consumes budget.
func (m *Manager) budgetExhausted(planned PlannedAction) bool {
	if planned.Type == domain.ActionNotify {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actionCount >= m.maxActions
}

// executedActions returns the global automated action count.
// Params: none.
// Returns: executed on-chain automated actions across all incidents.
func (m *Manager) executedActions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actionCount
}

// executeAction dispatches one planned action to its handler.
// Params: context, incident, and planned action.
// Returns: completed response action with per-contract outcomes.
func (m *Manager) executeAction(ctx context.Context, incident *domain.Incident, planned PlannedAction) domain.ResponseAction {
	now := m.clk.Now()
	action := domain.ResponseAction{
		ID:         uuid.NewString(),
		Type:       planned.Type,
		Automated:  true,
		Executed:   true,
		ExecutedAt: &now,
	}

	switch planned.Type {
	case domain.ActionPause:
		action.Targets = m.invokeTargets(ctx, planned.Candidates, func(target registry.Target) ([]byte, error) {
			if !target.Has(registry.CapPause) {
				return nil, fmt.Errorf("contract %s does not support pause", target.Name)
			}
			return chainCallData("pause()"), nil
		}, true)
	case domain.ActionWithdraw:
		action.Targets = m.invokeTargets(ctx, planned.Candidates, func(target registry.Target) ([]byte, error) {
			if !target.Has(registry.CapWithdraw) {
				return nil, fmt.Errorf("contract %s does not support withdraw", target.Name)
			}
			return chainCallData("emergencyWithdraw(address)", m.safeAddress), nil
		}, false)
	case domain.ActionTransferOwnership:
		action.Targets = m.invokeTargets(ctx, planned.Candidates, func(target registry.Target) ([]byte, error) {
			if !target.Has(registry.CapTransferOwnership) {
				return nil, fmt.Errorf("contract %s does not support ownership transfer", target.Name)
			}
			return chainCallData("transferOwnership(address)", m.recoveryOwner), nil
		}, false)
	case domain.ActionNotify:
		m.notifyIncident(ctx, incident, planned.Candidates)
		action.Result = domain.ActionSuccess
		return action
	default:
		action.Result = domain.ActionFailed
		action.Error = fmt.Sprintf("unknown action type %q", planned.Type)
		return action
	}

	// Failed actions consume budget too: a reverting fleet must still run
	// out of automation and escalate instead of retrying forever.
	action.Result = aggregateResult(action.Targets)
	m.mu.Lock()
	m.actionCount++
	m.mu.Unlock()
	return action
}

// invokeTargets submits one call per candidate contract.
// Params: candidates, per-target calldata builder, and pause bookkeeping flag.
// Returns: per-contract results; one failed contract never stops the rest.
func (m *Manager) invokeTargets(
	ctx context.Context,
	candidates []string,
	callData func(registry.Target) ([]byte, error),
	markPaused bool,
) []domain.TargetResult {
	results := make([]domain.TargetResult, 0, len(candidates))
	for _, name := range candidates {
		result := domain.TargetResult{Contract: name}
		target, ok := m.registry.Lookup(name)
		if !ok {
			result.Error = fmt.Sprintf("contract %s is not registered", name)
			results = append(results, result)
			continue
		}
		if markPaused && m.isPaused(name) {
			result.OK = true
			results = append(results, result)
			continue
		}
		data, err := callData(target)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		txHash, err := m.writer.Invoke(ctx, target.Address, data)
		if err != nil {
			result.Error = err.Error()
			if m.logger != nil {
				m.logger.Warn("response transaction failed", "contract", name, "error", err.Error())
			}
			results = append(results, result)
			continue
		}
		result.TxHash = txHash.Hex()
		if err := m.writer.WaitForConfirmations(ctx, txHash); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.OK = true
		if markPaused {
			m.setPaused(name)
		}
		results = append(results, result)
	}
	return results
}

// Resolve closes one incident and writes its report artifacts.
// Params: incident id and resolution note.
// Returns: resolved incident, faults.ErrNotFound for unknown ids, or an
// error when the incident is already terminal. Failed lookups mutate
// nothing.
func (m *Manager) Resolve(id, note string) (domain.Incident, error) {
	m.mu.Lock()
	incident, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return domain.Incident{}, faults.ErrNotFound
	}
	if incident.Terminal() {
		m.mu.Unlock()
		return domain.Incident{}, fmt.Errorf("incident %s is already resolved", id)
	}
	if m.inFlight[id] {
		m.mu.Unlock()
		return domain.Incident{}, fmt.Errorf("incident %s response is still in progress", id)
	}
	incident.Status = domain.IncidentResolved
	incident.Timeline = append(incident.Timeline, domain.TimelineEvent{
		Timestamp: m.clk.Now(),
		Event:     "incident resolved",
		Details:   note,
		Severity:  domain.SeverityInfo,
	})
	snapshot := cloneIncident(*incident)
	m.mu.Unlock()

	m.persist(incident)
	if m.reports != nil {
		if _, _, err := m.reports.WriteIncident(snapshot); err != nil && m.logger != nil {
			m.logger.Warn("incident report write failed", "incident", id, "error", err.Error())
		}
	}
	if m.logger != nil {
		m.logger.Info("incident resolved", "incident", id)
	}
	return snapshot, nil
}

// Get returns one incident snapshot by id.
// Params: incident id.
// Returns: incident clone or faults.ErrNotFound.
func (m *Manager) Get(id string) (domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return domain.Incident{}, faults.ErrNotFound
	}
	return cloneIncident(*incident), nil
}

// List returns snapshots of all tracked incidents.
// Params: none.
// Returns: incident clones sorted by detection time then id.
func (m *Manager) List() []domain.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		out = append(out, cloneIncident(*incident))
	}
	sortIncidents(out)
	return out
}

// MaybePromoteAlert converts qualifying critical alerts into incidents.
// Params: context and fired alert.
// Returns: created incident and promotion flag.
func (m *Manager) MaybePromoteAlert(ctx context.Context, alert domain.Alert) (domain.Incident, bool) {
	if alert.Severity != domain.SeverityCritical {
		return domain.Incident{}, false
	}

	var incidentReport domain.IncidentReport
	switch alert.RuleID {
	case "critical_gas_price":
		incidentReport = domain.IncidentReport{
			Type:              domain.IncidentGasAttack,
			Severity:          domain.SeverityCritical,
			Description:       alert.Description,
			AffectedContracts: m.registry.Names(),
		}
	case "contract_offline":
		incidentReport = domain.IncidentReport{
			Type:              domain.IncidentAnomaly,
			Severity:          domain.SeverityCritical,
			Description:       alert.Description,
			AffectedContracts: []string{alert.Contract},
		}
	default:
		return domain.Incident{}, false
	}

	incident, err := m.Detect(ctx, incidentReport, domain.DetectAutomated)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("alert promotion failed", "alert", alert.ID, "error", err.Error())
		}
		return domain.Incident{}, false
	}
	return incident, true
}

// PausedContracts returns contracts paused by automated response.
// Params: none.
// Returns: sorted paused contract names.
func (m *Manager) PausedContracts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.paused))
	for name := range m.paused {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// transition advances incident status and appends the timeline entry.
// Params: incident, next status, and timeline event fields.
// Returns: incident mutated under the manager mutex.
func (m *Manager) transition(incident *domain.Incident, next domain.IncidentStatus, event, details string, severity domain.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident.Status = next
	incident.Timeline = append(incident.Timeline, domain.TimelineEvent{
		Timestamp: m.clk.Now(),
		Event:     event,
		Details:   details,
		Severity:  severity,
	})
}

// appendActionTimeline records one completed action on the timeline.
// Params: incident and completed action.
// Returns: timeline entry severity derived from the action result.
func (m *Manager) appendActionTimeline(incident *domain.Incident, action domain.ResponseAction) {
	severity := domain.SeverityInfo
	switch action.Result {
	case domain.ActionPartial:
		severity = domain.SeverityWarning
	case domain.ActionFailed:
		severity = domain.SeverityCritical
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	incident.Timeline = append(incident.Timeline, domain.TimelineEvent{
		Timestamp: m.clk.Now(),
		Event:     fmt.Sprintf("action %s %s", action.Type, action.Result),
		Details:   summarizeTargets(action.Targets),
		Severity:  severity,
	})
}

// notifyIncident dispatches the incident payload to all channels.
// Params: context, incident to publish, and optional contract scope.
// Returns: delivery handled best effort; failures only logged. A non-empty
// scope narrows the published affected-contract list, used for the
// governance-specific notification.
func (m *Manager) notifyIncident(ctx context.Context, incident *domain.Incident, scope []string) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	snapshot := cloneIncident(*incident)
	m.mu.Unlock()
	if len(scope) > 0 {
		snapshot.AffectedContracts = append([]string(nil), scope...)
	}
	m.notifier.Dispatch(ctx, notify.IncidentPayload(snapshot, m.network))
}

// recordAudit appends one audit record for a completed action.
// Params: incident and completed action.
// Returns: store failure only logged; audit never blocks response.
func (m *Manager) recordAudit(incident *domain.Incident, action domain.ResponseAction) {
	if m.store == nil {
		return
	}
	record := state.AuditRecord{
		Timestamp:  m.clk.Now(),
		IncidentID: incident.ID,
		ActionID:   action.ID,
		ActionType: action.Type,
		Automated:  action.Automated,
		Result:     action.Result,
		Error:      action.Error,
	}
	if err := m.store.AppendAudit(record); err != nil && m.logger != nil {
		m.logger.Warn("audit append failed", "incident", incident.ID, "error", err.Error())
	}
}

// persist saves the incident snapshot to the state store.
// Params: incident owned by this manager.
// Returns: store failure only logged; persistence never blocks response.
func (m *Manager) persist(incident *domain.Incident) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	snapshot := cloneIncident(*incident)
	m.mu.Unlock()
	if err := m.store.SaveIncident(snapshot); err != nil && m.logger != nil {
		m.logger.Warn("incident persist failed", "incident", incident.ID, "error", err.Error())
	}
}

// affectedTargets resolves affected contract names to registry targets.
// Params: incident with affected contract names.
// Returns: registered targets; the whole registered fleet when no names
// were reported; unknown names are skipped.
func (m *Manager) affectedTargets(incident *domain.Incident) []registry.Target {
	if len(incident.AffectedContracts) == 0 {
		return m.registry.Targets()
	}
	out := make([]registry.Target, 0, len(incident.AffectedContracts))
	for _, name := range incident.AffectedContracts {
		if target, ok := m.registry.Lookup(name); ok {
			out = append(out, target)
		} else if m.logger != nil {
			m.logger.Warn("affected contract is not registered", "contract", name)
		}
	}
	return out
}

// isPaused reports whether a contract was paused by this manager.
// Params: contract name.
// Returns: paused flag.
func (m *Manager) isPaused(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[name]
}

// setPaused marks one contract paused.
// Params: contract name.
// Returns: paused set mutated in place.
func (m *Manager) setPaused(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[name] = true
}

// aggregateResult folds per-contract outcomes into one action result.
// Params: per-contract results.
// Returns: success when all passed, failed when all failed, else partial.
func aggregateResult(targets []domain.TargetResult) domain.ActionResult {
	if len(targets) == 0 {
		return domain.ActionFailed
	}
	passed := 0
	for _, target := range targets {
		if target.OK {
			passed++
		}
	}
	switch passed {
	case len(targets):
		return domain.ActionSuccess
	case 0:
		return domain.ActionFailed
	default:
		return domain.ActionPartial
	}
}

// summarizeTargets renders per-contract outcomes for timeline details.
// Params: per-contract results.
// Returns: compact one-line summary.
func summarizeTargets(targets []domain.TargetResult) string {
	if len(targets) == 0 {
		return ""
	}
	out := ""
	for i, target := range targets {
		if i > 0 {
			out += ", "
		}
		if target.OK {
			out += target.Contract + ":ok"
		} else {
			out += target.Contract + ":failed"
		}
	}
	return out
}

// cloneIncident deep-copies one incident record.
// Params: source incident.
// Returns: independent copy safe to hand to callers.
func cloneIncident(incident domain.Incident) domain.Incident {
	out := incident
	out.AffectedContracts = append([]string(nil), incident.AffectedContracts...)
	out.Timeline = append([]domain.TimelineEvent(nil), incident.Timeline...)
	out.ResponseActions = make([]domain.ResponseAction, len(incident.ResponseActions))
	for i, action := range incident.ResponseActions {
		cloned := action
		cloned.Targets = append([]domain.TargetResult(nil), action.Targets...)
		if action.ExecutedAt != nil {
			executedAt := *action.ExecutedAt
			cloned.ExecutedAt = &executedAt
		}
		out.ResponseActions[i] = cloned
	}
	return out
}

// sortIncidents orders incidents by detection time then id.
// Params: incident slice mutated in place.
// Returns: deterministic listing order.
func sortIncidents(incidents []domain.Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if !incidents[i].Timestamp.Equal(incidents[j].Timestamp) {
			return incidents[i].Timestamp.Before(incidents[j].Timestamp)
		}
		return incidents[i].ID < incidents[j].ID
	})
}

// chainCallData builds method-selector calldata for response calls.
// Swappable in tests.
var chainCallData = chain.MethodCallData
