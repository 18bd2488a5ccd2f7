package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deepresearch/internal/completion"
	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/knowledge"
	"deepresearch/internal/logging"
	"deepresearch/internal/orchestrator"
	"deepresearch/internal/search"
	"deepresearch/internal/sections"
	"deepresearch/internal/store"

	"go.uber.org/zap"
)

// app is the wired engine and everything it owns.
type app struct {
	engine   *orchestrator.Engine
	bus      *events.Bus
	store    store.SessionStore
	registry *search.Registry
	kb       *knowledge.Store
	ingester *knowledge.Ingester
}

// newApp wires the engine from cfg. The knowledge base directory, when
// configured, is ingested before the engine is returned.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	llm, err := completion.New(ctx, cfg.LLM, cfg.GetLLMTimeout())
	if err != nil {
		logging.BootError("Completion provider %q unavailable: %v", cfg.LLM.Provider, err)
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	a.registry, err = search.NewRegistry(ctx, cfg.Search, cfg.GetSearchTimeout(), cfg.GetCacheTTL())
	if err != nil {
		logging.BootError("Search registry unavailable: %v", err)
		return nil, fmt.Errorf("failed to create search registry: %w", err)
	}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := orchestrator.Options{
		Completion: llm,
		Search:     a.registry,
		Store:      a.store,
		Defaults:   cfg.Research,
		Admin:      &cfg.Admin,
	}

	if cfg.Knowledge.Enabled {
		a.kb, a.ingester, err = openKnowledge(ctx, cfg.Knowledge)
		if err != nil {
			return nil, err
		}
		opts.Knowledge = a.kb
	}

	if cfg.TaxonomyPath != "" {
		opts.Taxonomy, err = sections.LoadTaxonomy(cfg.TaxonomyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load taxonomy: %w", err)
		}
	}

	a.bus = events.NewBus()
	opts.Bus = a.bus

	a.engine, err = orchestrator.NewEngine(opts)
	if err != nil {
		return nil, err
	}

	logger.Debug("engine wired",
		zap.String("llm", cfg.LLM.Provider),
		zap.String("search", cfg.Search.Provider),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("knowledge", cfg.Knowledge.Enabled))
	logging.Boot("Engine ready: llm=%s search=%s store=%s knowledge=%v",
		cfg.LLM.Provider, cfg.Search.Provider, cfg.Store.Backend, cfg.Knowledge.Enabled)
	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	st, err := store.Open(ctx, cfg.Store, cfg.GetSessionTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return st, nil
}

// openKnowledge opens the knowledge base and ingests the configured
// directory. The ingester is nil when no directory is configured.
func openKnowledge(ctx context.Context, kcfg config.KnowledgeConfig) (*knowledge.Store, *knowledge.Ingester, error) {
	kb, err := knowledge.Open(kcfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	if kcfg.Directory == "" {
		return kb, nil, nil
	}

	ingester, err := knowledge.NewIngester(kb, kcfg.Directory, kcfg.ChunkSize)
	if err != nil {
		kb.Close()
		return nil, nil, err
	}
	stats, err := ingester.IngestDir(ctx)
	if err != nil {
		kb.Close()
		return nil, nil, fmt.Errorf("failed to ingest %s: %w", kcfg.Directory, err)
	}
	logger.Info("knowledge base ingested",
		zap.String("dir", ingester.Root()),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("failed", stats.Failed))
	return kb, ingester, nil
}

// Close releases everything newApp opened.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.kb != nil {
		errs = append(errs, a.kb.Close())
	}
	return errors.Join(errs...)
}

// commandContext is canceled on SIGINT/SIGTERM or when the global timeout
// expires.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}
