package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/cost"
	"github.com/civicsense/analysis-cli/internal/factcheck"
	"github.com/civicsense/analysis-cli/internal/health"
	"github.com/civicsense/analysis-cli/internal/orchestrator"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/internal/schema"
	"github.com/civicsense/analysis-cli/internal/store"
	"github.com/civicsense/analysis-cli/internal/telemetry"
	anthropicpkg "github.com/civicsense/analysis-cli/pkg/anthropic"
	"github.com/civicsense/analysis-cli/pkg/perplexity"
)

// appEnv holds the initialized store, provider registry, and both pipelines
// shared by the analyze/factcheck/serve commands.
type appEnv struct {
	Store        store.Store
	Registry     *provider.Registry
	Tracker      *health.Tracker
	Orchestrator *orchestrator.Orchestrator
	Factcheck    *factcheck.Pipeline
	Usage        *telemetry.Aggregator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp opens the store, builds one adapter per configured provider, and
// wires the orchestrator and fact-check pipeline. Callers should defer
// env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg := provider.NewRegistry()
	tracker := health.NewTracker(resilience.FromCircuitConfig(
		cfg.Resilience.FailureThreshold, cfg.Resilience.ResetTimeoutSecs))
	calc := cost.NewCalculator(cfg.Pricing)

	for _, p := range cfg.Providers {
		adapter, err := buildAdapter(p, calc)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if err := reg.Register(p, adapter); err != nil {
			_ = st.Close()
			return nil, err
		}
		tracker.Register(p.ID)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tpls := orchestrator.NewTemplates()
	if cfg.Orchestrator.TemplateOverlay != "" {
		if err := tpls.LoadOverlay(cfg.Orchestrator.TemplateOverlay); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	responseCache := cache.NewStored(st, time.Duration(cfg.Orchestrator.CacheTTLMins)*time.Minute)
	usage := telemetry.NewAggregator()
	sink := telemetry.Multi{telemetry.ZapSink{}, telemetry.NewAuditSink(st), usage}

	orch := orchestrator.New(reg, tracker, responseCache, validator, tpls, sink, orchestrator.Config{
		MaxProviders:  cfg.Orchestrator.MaxProviders,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrent,
	})
	pipeline := factcheck.New(st, reg, tracker, validator, sink, cfg.Factcheck)

	return &appEnv{
		Store:        st,
		Registry:     reg,
		Tracker:      tracker,
		Orchestrator: orch,
		Factcheck:    pipeline,
		Usage:        usage,
	}, nil
}

// buildAdapter constructs the API client for one provider profile.
func buildAdapter(p provider.Profile, calc *cost.Calculator) (provider.Adapter, error) {
	switch p.Kind {
	case "anthropic":
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		return provider.NewAnthropicAdapter(client, p.Model, cfg.Anthropic.System, calc.ForKind(p.Kind)), nil
	case "openai":
		oc := openai.DefaultConfig(cfg.OpenAI.Key)
		if cfg.OpenAI.BaseURL != "" {
			oc.BaseURL = cfg.OpenAI.BaseURL
		}
		return provider.NewOpenAIAdapter(openai.NewClientWithConfig(oc), p.Model, calc.ForKind(p.Kind)), nil
	case "perplexity":
		client := perplexity.NewClient(cfg.Perplexity.Key, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		return provider.NewPerplexityAdapter(client, p.Model, calc.ForKind(p.Kind)), nil
	default:
		return nil, eris.Errorf("unknown provider kind %q for %s", p.Kind, p.ID)
	}
}
