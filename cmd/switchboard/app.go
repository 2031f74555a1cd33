package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"switchboard/internal/adapter/catalog"
	"switchboard/internal/adapter/storage"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase/eventbus"
	"switchboard/internal/usecase/multiagent"
	"switchboard/internal/usecase/routing"
	"switchboard/internal/usecase/tracing"
)

// app is the wired set of components every subcommand draws from.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *storage.DB
	bus      *eventbus.Bus
	journal  *eventbus.Journal
	registry *multiagent.Registry
	engine   *routing.Engine
	router   *routing.Orchestrator
	handoffs *multiagent.HandoffPipeline
	traces   *tracing.Reader
	events   domain.EventStore

	closers []func() error
}

// newApp loads the config and builds the component graph. The returned app
// must be closed.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, logCloser)

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return tracerShutdown(context.Background()) })

	a.db, err = storage.Open(cfg.Storage.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	a.bus = eventbus.New(log)
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		stored, failed := a.journal.Stats()
		log.Debug("event journal flushed", "stored", stored, "failed", failed)
		return nil
	})
	a.journal, _ = eventbus.NewJournal(a.bus, a.db, log)

	a.registry = multiagent.NewRegistry(catalog.FromConfig(cfg.Agents), a.bus, log)

	llmComp, err := initLLM(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	keywords := multiagent.NewKeywordRouter(multiagent.KeywordConfig{
		SearchAgent:    cfg.Routing.SearchAgent,
		DebugAgent:     cfg.Routing.DebugAgent,
		SearchKeywords: cfg.Routing.SearchKeywords,
		DebugKeywords:  cfg.Routing.DebugKeywords,
	}, log)
	a.engine = routing.NewEngine(llmComp.Router, llmComp.Models, a.registry, keywords, routing.EngineConfigFrom(cfg.Routing), log)
	a.router = routing.NewOrchestrator(a.engine, a.registry, routing.NewFallbackRecorder(a.bus, log), cfg.Routing.LastResortAgent, log)

	a.handoffs = multiagent.NewHandoffPipeline(a.registry, a.db, nil, a.bus, log)
	a.traces = tracing.NewReader(a.db)
	a.events = a.db

	log.Debug("switchboard initialized",
		"db", cfg.Storage.Path,
		"providers", llmComp.Registry.List(),
		"threshold", a.engine.Threshold(),
	)
	return a, nil
}

// newTrace returns a trace context that persists to the app's store.
func (a *app) newTrace() *tracing.Context {
	return tracing.New(a.db, a.log, tracing.WithEventBus(a.bus))
}

// Close releases components in reverse construction order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
