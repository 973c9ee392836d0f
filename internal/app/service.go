package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"sentinel/internal/chain"
	"sentinel/internal/clock"
	"sentinel/internal/config"
	"sentinel/internal/engine"
	"sentinel/internal/incident"
	"sentinel/internal/ingest"
	"sentinel/internal/logging"
	"sentinel/internal/monitor"
	"sentinel/internal/notify"
	"sentinel/internal/registry"
	"sentinel/internal/report"
	"sentinel/internal/sched"
	"sentinel/internal/state"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable sentinel service.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	clock     clock.Clock
	connector *chain.Connector
	registry  *registry.Registry
	monitor   *monitor.Monitor
	engine    *engine.Engine
	notifier  *notify.Dispatcher
	store     state.Store
	reports   *report.Writer
	incidents *incident.Manager
	scheduler *sched.Scheduler
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
}

// NewService builds the service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	service.connector, err = chain.New(cfg.Chain, logger)
	if err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("init chain connector: %w", err)
	}
	service.registry, err = registry.New(cfg.Contracts)
	if err != nil {
		service.cleanupInitResources()
		return nil, fmt.Errorf("init contract registry: %w", err)
	}
	service.store, err = buildStore(cfg)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.reports, err = report.NewWriter(cfg.Report.Dir)
	if err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	service.monitor = monitor.New(service.registry, service.connector, logger, clk)
	service.engine = engine.New(engine.StandardRules(cfg.Rules), clk, logger)
	service.notifier = notify.NewDispatcher(cfg.Notify, nil, logger)
	service.incidents = incident.NewManager(
		cfg.Response, cfg.Chain, cfg.Service.Network,
		service.registry, service.connector, service.notifier,
		service.store, service.reports, clk, logger,
	)

	service.scheduler = service.buildScheduler()
	if err := service.scheduler.Restore(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until shutdown.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	monitorTicker := time.NewTicker(time.Duration(s.cfg.Service.MonitorIntervalSec) * time.Second)
	defer monitorTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-monitorTicker.C:
				s.monitorPass(shutdownCtx)
			}
		}
	}()

	gasTicker := time.NewTicker(time.Duration(s.cfg.Service.GasIntervalSec) * time.Second)
	defer gasTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-gasTicker.C:
				s.gasPass(shutdownCtx)
			}
		}
	}()

	reportTicker := time.NewTicker(time.Duration(s.cfg.Report.MonitoringIntervalSec) * time.Second)
	defer reportTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-reportTicker.C:
				s.monitoringReport()
			}
		}
	}()

	livenessTicker := time.NewTicker(time.Duration(s.cfg.Service.LivenessIntervalSec) * time.Second)
	defer livenessTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-livenessTicker.C:
				if err := s.connector.Probe(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("rpc liveness probe failed", "error", err.Error())
				}
			}
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// monitorPass runs one health tick and routes alerts through the pipeline.
// Params: runtime context.
// Returns: alerts dispatched and critical alerts promoted to incidents.
func (s *Service) monitorPass(ctx context.Context) {
	samples := s.monitor.Tick(ctx)
	alerts := s.engine.EvaluateContracts(samples)
	for _, alert := range alerts {
		s.notifier.Dispatch(ctx, notify.AlertPayload(alert, s.cfg.Service.Network))
		s.incidents.MaybePromoteAlert(ctx, alert)
	}
}

// monitoringReport writes the periodic monitoring report artifacts.
// Params: none.
// Returns: write failures only logged; reporting never stops the service.
func (s *Service) monitoringReport() {
	snapshot := report.MonitoringSnapshot{
		GeneratedAt: s.clock.Now(),
		Network:     s.cfg.Service.Network,
		Metrics:     s.monitor.Snapshot(),
	}
	if _, _, err := s.reports.WriteMonitoring(snapshot); err != nil {
		s.logger.Warn("monitoring report write failed", "error", err.Error())
	}
}

// gasPass samples gas price and routes global alerts.
// Params: runtime context.
// Returns: gas alerts dispatched and promoted when critical.
func (s *Service) gasPass(ctx context.Context) {
	gasGwei, err := s.connector.GasPriceGwei(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("gas price read failed", "error", err.Error())
		}
		return
	}
	for _, alert := range s.engine.EvaluateGas(gasGwei) {
		s.notifier.Dispatch(ctx, notify.AlertPayload(alert, s.cfg.Service.Network))
		s.incidents.MaybePromoteAlert(ctx, alert)
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	s.connector.Close()
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.connector != nil {
		s.connector.Close()
		s.connector = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest, control, and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.Ingest.HTTP.Enabled {
		maxBody := s.cfg.Ingest.HTTP.MaxBodyBytes
		mux.Handle(s.cfg.Ingest.HTTP.ActivityPath, ingest.NewActivityHandler(s.monitor, maxBody))
		mux.Handle(s.cfg.Ingest.HTTP.IncidentPath, ingest.NewIncidentHandler(s.incidents, maxBody))
		mux.Handle(s.cfg.Ingest.HTTP.ResolvePath, ingest.NewResolveHandler(s.incidents, maxBody))
		mux.Handle(s.cfg.Ingest.HTTP.SchedulePath, ingest.NewScheduleHandler(s.scheduler, maxBody))
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS activity ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.monitor, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildScheduler wires the deployment scheduler with chain-gated checks.
// Params: none.
// Returns: scheduler over the address-book deployer.
func (s *Service) buildScheduler() *sched.Scheduler {
	preChecks := []sched.Check{
		{
			Name:     "rpc reachable",
			Required: true,
			Run:      s.connector.Probe,
		},
		{
			Name:     "chain head readable",
			Required: false,
			Run: func(ctx context.Context) error {
				_, err := s.connector.BlockNumber(ctx)
				return err
			},
		},
	}
	postChecks := []sched.Check{
		{
			Name:     "contract balances readable",
			Required: false,
			Run: func(ctx context.Context) error {
				for _, target := range s.registry.Targets() {
					if _, err := s.connector.Balance(ctx, target.Address); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
	deployer := &addressBookDeployer{registry: s.registry}
	return sched.New(deployer, preChecks, postChecks, s.cfg.Chain.SafeAddress, s.store, s.clock, s.logger)
}

// addressBookDeployer publishes the registered fleet as the deployed set.
// Params: contract registry.
// Returns: deployer emitting the name-to-address book for the schedule.
type addressBookDeployer struct {
	registry *registry.Registry
}

// Deploy returns the registered contract address book.
// Params: context and schedule name.
// Returns: name to hex-address map.
func (d *addressBookDeployer) Deploy(_ context.Context, _ string) (map[string]string, error) {
	out := make(map[string]string)
	for _, target := range d.registry.Targets() {
		out[target.Name] = target.Address.Hex()
	}
	return out, nil
}

// buildStore creates the runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (state.Store, error) {
	if cfg.Store.Mode == config.StoreModeBadger {
		return state.NewBadgerStore(cfg.Store.Dir)
	}
	return state.NewMemoryStore(), nil
}
