package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/alias"
	"github.com/iyulab/actor-profiler/internal/config"
	"github.com/iyulab/actor-profiler/internal/llm"
	"github.com/iyulab/actor-profiler/internal/metrics"
	"github.com/iyulab/actor-profiler/internal/orchestrator"
	"github.com/iyulab/actor-profiler/internal/override"
	"github.com/iyulab/actor-profiler/internal/reference"
	"github.com/iyulab/actor-profiler/internal/sources"
	"github.com/iyulab/actor-profiler/internal/store"
	"github.com/iyulab/actor-profiler/internal/vuln"
)

// app holds the process-wide collaborators. The reference cache and the NVD
// verifier are shared by every request.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	overrides *override.Registry
	sources   *sources.Validator
	reference *reference.Cache
	generator *orchestrator.Generator
	store     *store.Store
}

func newApp(cfg *config.Config, logger *zap.Logger, openStore bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New("profiler")}

	provider, err := llm.NewProvider(llm.Config{
		Provider:         cfg.LLM.Provider,
		APIKey:           cfg.LLM.APIKey,
		Model:            cfg.LLM.Model,
		Endpoint:         cfg.LLM.Endpoint,
		Timeout:          cfg.LLM.TimeoutDuration(),
		WebSearchMaxUses: cfg.LLM.WebSearchMaxUses,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	a.overrides, err = override.Load(cfg.Overrides.Path)
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}

	a.sources = sources.NewValidator(
		sources.WithProbeTimeout(cfg.Sources.ProbeTimeoutDuration()),
		sources.WithLogger(logger),
		sources.WithMetrics(a.metrics),
	)

	deps := orchestrator.Deps{
		Provider:  provider,
		Overrides: a.overrides,
		Aliases:   alias.New(),
		Sources:   a.sources,
		Logger:    logger,
		Metrics:   a.metrics,
	}
	if cfg.Reference.Enabled {
		a.reference = reference.NewCache(
			reference.NewHTTPFetcher(cfg.Reference.URL, cfg.Reference.TimeoutDuration()),
			cfg.Reference.TTL(),
			reference.WithLogger(logger),
			reference.WithMetrics(a.metrics),
		)
		deps.Taxonomy = a.reference
	}
	if cfg.NVD.Enabled {
		verifier := vuln.NewVerifier(vuln.Options{
			Endpoint:    cfg.NVD.Endpoint,
			APIKey:      cfg.NVD.APIKey,
			MinInterval: cfg.NVD.MinInterval(),
			Timeout:     cfg.NVD.TimeoutDuration(),
			Logger:      logger,
			Metrics:     a.metrics,
		})
		deps.Vulns = vuln.NewReconciler(verifier, cfg.NVD.MaxChecks, logger)
	}

	callTimeout := cfg.LLM.TimeoutDuration()
	if callTimeout == 0 && cfg.LLM.Provider == "ollama" {
		callTimeout = 300 * time.Second
	}
	a.generator = orchestrator.New(deps, orchestrator.Settings{
		ResearchMaxTokens:  cfg.LLM.ResearchMaxTokens,
		StructureMaxTokens: cfg.LLM.StructureMaxTokens,
		RetryMaxTokens:     cfg.LLM.RetryMaxTokens,
		Temperature:        cfg.LLM.Temperature,
		CallTimeout:        callTimeout,
		MinSources:         cfg.Sources.MinSources,
		MaxDocumentChars:   cfg.Input.MaxDocumentChars,
	})

	if openStore {
		a.store, err = store.Open(store.Options{Dir: cfg.Store.Dir, InMemory: cfg.Store.InMemory, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
