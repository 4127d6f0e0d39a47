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

	"marinealarm/internal/clock"
	"marinealarm/internal/config"
	"marinealarm/internal/engine"
	"marinealarm/internal/escalate"
	"marinealarm/internal/grouping"
	"marinealarm/internal/history"
	"marinealarm/internal/ingest"
	"marinealarm/internal/logging"
	"marinealarm/internal/notify"
	"marinealarm/internal/publish"
	"marinealarm/internal/rules"
	"marinealarm/internal/state"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alarm service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	store     state.Store
	evaluator *engine.Engine
	registry  *rules.Registry
	manager   *Manager
	tracker   *escalate.Tracker
	publisher publish.Publisher
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
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

	store, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	evaluator := engine.New()
	registry := rules.NewRegistry(evaluator)
	for i := range cfg.Rules {
		if err := registry.Register(cfg.Rules[i]); err != nil {
			_ = store.Close()
			closeLog()
			return nil, fmt.Errorf("register rule %q: %w", cfg.Rules[i].ID, err)
		}
	}

	publisher, err := buildPublisher(cfg, logger)
	if err != nil {
		_ = store.Close()
		closeLog()
		return nil, err
	}

	recorder := history.NewRecorder(store)
	groups := grouping.NewEngine(store)
	manager := NewManager(registry, evaluator, groups, recorder, store, publisher, clk, logger)
	sweepInterval := time.Duration(cfg.Service.EscalationSweepSeconds) * time.Second
	tracker := escalate.NewTracker(store, registry, recorder, publisher, clk, logger, sweepInterval)

	service := &Service{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		store:     store,
		evaluator: evaluator,
		registry:  registry,
		manager:   manager,
		tracker:   tracker,
		publisher: publisher,
		clock:     clk,
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

// Manager exposes the alarm facade for embedding callers.
// Params: none.
// Returns: the composed manager.
func (s *Service) Manager() *Manager {
	return s.manager
}

// Run starts the service lifecycle and blocks until a shutdown signal.
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

	s.tracker.Start(shutdownCtx)

	if s.cfg.Service.StateCompactSeconds > 0 {
		compactInterval := time.Duration(s.cfg.Service.StateCompactSeconds) * time.Second
		idleTTL := time.Duration(s.cfg.Service.StateIdleTTLSeconds) * time.Second
		compactTicker := time.NewTicker(compactInterval)
		defer compactTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-compactTicker.C:
					removed := s.evaluator.CompactStates(s.clock.Now(), idleTTL, s.cfg.Service.StateMaxEntries)
					if removed > 0 {
						s.logger.Info("evaluation state compacted", "removed", removed, "remaining", s.evaluator.Len())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)
	s.logger.Info("service started",
		"mode", s.cfg.Service.Mode,
		"rules", s.registry.Len(),
	)

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
	if err := s.tracker.Close(); err != nil {
		s.logger.Error("escalation tracker close failed", "error", err.Error())
		markErr(fmt.Errorf("escalation tracker close: %w", err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close failed", "error", err.Error())
		markErr(fmt.Errorf("publisher close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
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
	if s.tracker != nil {
		_ = s.tracker.Close()
		s.tracker = nil
	}
	if s.publisher != nil {
		_ = s.publisher.Close()
		s.publisher = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest and health endpoints.
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
		handler := ingest.NewHTTPHandler(s.manager, s.cfg.Ingest.HTTP.MaxBodyBytes)
		mux.Handle(s.cfg.Ingest.HTTP.ReadingsPath, handler.Readings())
		mux.Handle(s.cfg.Ingest.HTTP.StatusPath, handler.Statuses())
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) {
		return nil
	}
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.manager, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// buildStore selects the state backend by service mode.
// Params: loaded config snapshot.
// Returns: store implementation or backend error.
func buildStore(cfg config.Config) (state.Store, error) {
	if isSingleMode(cfg) {
		return state.NewMemoryStore(), nil
	}
	store, err := state.NewNATSStore(cfg.State.NATS)
	if err != nil {
		return nil, fmt.Errorf("nats state backend: %w", err)
	}
	return store, nil
}

// buildPublisher composes outbound event targets by config.
// Params: loaded config snapshot and logger.
// Returns: fan-out publisher (empty fan-out discards events) or setup error.
func buildPublisher(cfg config.Config, logger *slog.Logger) (publish.Publisher, error) {
	var targets []publish.Publisher
	if cfg.Publish.Enabled && !isSingleMode(cfg) {
		natsPub, err := publish.NewNATSPublisher(cfg.Publish.NATS)
		if err != nil {
			return nil, fmt.Errorf("nats publisher: %w", err)
		}
		targets = append(targets, natsPub)
	}
	if cfg.Notify.Webhook.Enabled {
		targets = append(targets, notify.NewWebhookNotifier(cfg.Notify.Webhook, logger))
	}
	return publish.NewMultiPublisher(targets...), nil
}

// isSingleMode reports whether the service runs without NATS backends.
func isSingleMode(cfg config.Config) bool {
	return cfg.Service.Mode == config.ServiceModeSingle
}
