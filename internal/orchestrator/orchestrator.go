// Package orchestrator fans one analysis request out to several providers
// and reconciles their outputs into a single validated result.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/consensus"
	"github.com/civicsense/analysis-cli/internal/health"
	"github.com/civicsense/analysis-cli/internal/jsonx"
	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/internal/schema"
	"github.com/civicsense/analysis-cli/internal/telemetry"
)

// Config tunes orchestration behavior.
type Config struct {
	// MaxProviders caps how many providers one request fans out to.
	MaxProviders int `yaml:"max_providers" mapstructure:"max_providers"`
	// MaxConcurrent bounds concurrent provider calls. 0 means no bound
	// beyond MaxProviders.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// Request is one analysis request.
type Request struct {
	Mode   model.AnalysisMode `json:"mode"`
	Input  string             `json:"input"`
	Locale string             `json:"locale,omitempty"`
}

// Candidate is the immutable outcome of one provider attempt that produced a
// valid analysis.
type Candidate struct {
	Provider  string          `json:"provider"`
	Analysis  *model.Analysis `json:"analysis"`
	Score     float64         `json:"score"`
	Duration  time.Duration   `json:"duration_ms"`
	TokensIn  int             `json:"tokens_in"`
	TokensOut int             `json:"tokens_out"`
	CostEUR   float64         `json:"cost_eur"`
	CacheHit  bool            `json:"cache_hit"`
}

// Result is the reconciled outcome of a request.
type Result struct {
	Analysis   *model.Analysis       `json:"analysis"`
	Method     model.ConsensusMethod `json:"method"`
	Candidates []Candidate           `json:"candidates"`
}

// Orchestrator coordinates provider selection, dispatch, validation, and
// consensus for analysis requests.
type Orchestrator struct {
	registry  *provider.Registry
	tracker   *health.Tracker
	cache     cache.Cache
	validator *schema.Validator
	templates *Templates
	sink      telemetry.Sink
	cfg       Config
}

// New wires an orchestrator. A nil sink disables telemetry.
func New(reg *provider.Registry, tracker *health.Tracker, c cache.Cache, v *schema.Validator, tpls *Templates, sink telemetry.Sink, cfg Config) *Orchestrator {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	if cfg.MaxProviders <= 0 {
		cfg.MaxProviders = 3
	}
	return &Orchestrator{
		registry:  reg,
		tracker:   tracker,
		cache:     c,
		validator: v,
		templates: tpls,
		sink:      sink,
		cfg:       cfg,
	}
}

// Analyze runs one request across the healthiest available providers and
// merges their valid outputs. Individual provider failures are isolated;
// only zero valid candidates is an error.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, eris.New("orchestrator: empty input")
	}

	tpl, err := o.templates.Resolve(req.Mode, req.Locale)
	if err != nil {
		return nil, err
	}

	ids := o.selectProviders()
	if len(ids) == 0 {
		return nil, eris.New("orchestrator: no providers available")
	}

	zap.L().Info("dispatching analysis",
		zap.String("mode", string(req.Mode)),
		zap.String("locale", req.Locale),
		zap.Strings("providers", ids))

	type attempt struct {
		candidate *Candidate
		err       error
	}
	attempts := make([]attempt, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.MaxConcurrent
	if limit <= 0 {
		limit = len(ids)
	}
	g.SetLimit(limit)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			c, err := o.runProvider(gctx, id, req, tpl)
			attempts[i] = attempt{candidate: c, err: err}
			// Provider failures are isolated; never cancel siblings.
			return nil
		})
	}
	g.Wait()

	var candidates []Candidate
	var failures []string
	for i, a := range attempts {
		if a.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ids[i], a.err))
			continue
		}
		candidates = append(candidates, *a.candidate)
	}

	if len(candidates) == 0 {
		return nil, eris.Errorf("orchestrator: all providers failed: %s", strings.Join(failures, "; "))
	}
	if len(failures) > 0 {
		zap.L().Warn("some providers failed", zap.Strings("failures", failures))
	}

	merged, method, err := o.reconcile(candidates)
	if err != nil {
		return nil, err
	}
	return &Result{Analysis: merged, Method: method, Candidates: candidates}, nil
}

// selectProviders returns enabled providers with a closed circuit, ordered
// by health score, capped at MaxProviders.
func (o *Orchestrator) selectProviders() []string {
	var available []string
	for _, id := range o.registry.Enabled() {
		if o.tracker.Available(id) {
			available = append(available, id)
		}
	}
	sorted := o.tracker.SortByHealth(available)
	if len(sorted) > o.cfg.MaxProviders {
		sorted = sorted[:o.cfg.MaxProviders]
	}
	return sorted
}

func (o *Orchestrator) runProvider(ctx context.Context, id string, req Request, tpl string) (*Candidate, error) {
	adapter, profile, ok := o.registry.Get(id)
	if !ok {
		return nil, eris.Errorf("orchestrator: provider %q not registered", id)
	}

	prompt := buildPrompt(tpl, req.Input, profile)
	key := cache.Key(TemplateVersion, string(req.Mode), req.Input, req.Locale, id)

	if c := o.tryCache(ctx, key, id, req.Mode); c != nil {
		return c, nil
	}

	if err := o.registry.Wait(ctx, id); err != nil {
		return nil, err
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if profile.TimeoutMs > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(profile.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	o.tracker.BeforeCall(id)
	start := time.Now()
	result, err := resilience.ExecuteVal(callCtx, o.tracker.Breaker(id), func(ctx context.Context) (*provider.CallResult, error) {
		return adapter.Call(ctx, provider.CallRequest{Prompt: prompt, MaxTokens: profile.MaxTokens})
	})
	duration := time.Since(start)

	if err != nil {
		o.tracker.AfterCall(id, duration, false, false)
		o.record(ctx, id, req, duration, false, false, string(resilience.Classify(err)), nil)
		return nil, eris.Wrapf(err, "orchestrator: provider %s", id)
	}

	analysis, parseErr := o.parseAndValidate(req.Mode, result.Text)
	if parseErr != nil {
		o.tracker.AfterCall(id, duration, true, false)
		o.record(ctx, id, req, duration, false, false, string(resilience.Classify(parseErr)), result)
		return nil, eris.Wrapf(parseErr, "orchestrator: provider %s output", id)
	}

	o.tracker.AfterCall(id, duration, true, true)
	o.record(ctx, id, req, duration, true, false, "", result)

	if o.cache != nil {
		if err := o.cache.Set(ctx, cache.Entry{Key: key, Text: result.Text, Provider: id}); err != nil {
			zap.L().Warn("cache write failed", zap.String("provider", id), zap.Error(err))
		}
	}

	return &Candidate{
		Provider:  id,
		Analysis:  analysis,
		Score:     o.tracker.Score(id),
		Duration:  duration,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		CostEUR:   result.CostEUR,
	}, nil
}

// tryCache returns a candidate from a cached response, or nil on a miss.
// Cached text is re-validated; stale or invalid entries read as misses.
func (o *Orchestrator) tryCache(ctx context.Context, key, id string, mode model.AnalysisMode) *Candidate {
	if o.cache == nil {
		return nil
	}
	entry, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache read failed", zap.String("provider", id), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	analysis, err := o.parseAndValidate(mode, entry.Text)
	if err != nil {
		zap.L().Warn("cached response no longer validates, treating as miss",
			zap.String("provider", id), zap.Error(err))
		return nil
	}
	o.sink.Record(ctx, telemetry.CallRecord{
		Provider: id,
		Mode:     string(mode),
		CacheHit: true,
		Success:  true,
		At:       time.Now().UTC(),
	})
	return &Candidate{
		Provider: id,
		Analysis: analysis,
		Score:    o.tracker.Score(id),
		CacheHit: true,
	}
}

func (o *Orchestrator) parseAndValidate(mode model.AnalysisMode, text string) (*model.Analysis, error) {
	raw, cleaned, err := jsonx.Parse(text)
	if err != nil {
		zap.L().Debug("json parse failed", zap.String("cleaned_span", truncate(cleaned, 200)))
		return nil, resilience.WithKind(resilience.KindJSON, err)
	}
	analysis, err := o.validator.Validate(mode, raw)
	if err != nil {
		return nil, resilience.WithKind(resilience.KindSchema, err)
	}
	return analysis, nil
}

// reconcile merges candidates into one analysis. Candidates of a different
// type than the first are discarded with a warning; the first-received
// answer wins cross-type disagreement.
func (o *Orchestrator) reconcile(candidates []Candidate) (*model.Analysis, model.ConsensusMethod, error) {
	sameType := candidates[:0:0]
	for _, c := range candidates {
		if c.Analysis.Type == candidates[0].Analysis.Type {
			sameType = append(sameType, c)
		} else {
			zap.L().Warn("discarding cross-type candidate",
				zap.String("provider", c.Provider),
				zap.String("got", string(c.Analysis.Type)),
				zap.String("want", string(candidates[0].Analysis.Type)))
		}
	}

	if len(sameType) == 1 {
		return sameType[0].Analysis, model.ConsensusSingle, nil
	}

	analyses := make([]*model.Analysis, len(sameType))
	for i, c := range sameType {
		analyses[i] = c.Analysis
	}
	merged, err := consensus.Merge(analyses)
	if err != nil {
		return nil, "", eris.Wrap(err, "orchestrator: merge")
	}
	return merged, model.ConsensusMulti, nil
}

func (o *Orchestrator) record(ctx context.Context, id string, req Request, duration time.Duration, success, cacheHit bool, errorKind string, result *provider.CallResult) {
	rec := telemetry.CallRecord{
		Provider:  id,
		Mode:      string(req.Mode),
		Locale:    req.Locale,
		CacheHit:  cacheHit,
		Success:   success,
		ErrorKind: errorKind,
		LatencyMs: duration.Milliseconds(),
		At:        time.Now().UTC(),
	}
	if result != nil {
		rec.TokensIn = result.TokensIn
		rec.TokensOut = result.TokensOut
		rec.CostEUR = result.CostEUR
	}
	o.sink.Record(ctx, rec)
}

// buildPrompt assembles the final prompt: template with input spliced in,
// role guidance, and any per-provider hint.
func buildPrompt(tpl, input string, profile provider.Profile) string {
	var b strings.Builder
	b.WriteString(Render(tpl, input))
	b.WriteString("\n\n")
	b.WriteString(profile.Role.PromptGuidance())
	if profile.PromptHint != "" {
		b.WriteString("\n")
		b.WriteString(profile.PromptHint)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ProviderHealth is the diagnostic view exposed by the providers command and
// the health endpoint.
type ProviderHealth struct {
	ID           string  `json:"id"`
	Enabled      bool    `json:"enabled"`
	Score        float64 `json:"score"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	CircuitState string  `json:"circuit_state"`
	InFlight     int     `json:"in_flight"`
}

// Health reports per-provider diagnostics, best first.
func (o *Orchestrator) Health() []ProviderHealth {
	ids := o.registry.All()
	out := make([]ProviderHealth, 0, len(ids))
	for _, id := range ids {
		p, _ := o.registry.Profile(id)
		m := o.tracker.Snapshot(id)
		out = append(out, ProviderHealth{
			ID:           id,
			Enabled:      p.Enabled,
			Score:        health.ScoreMetric(m),
			SuccessRate:  m.SuccessRate(),
			AvgLatencyMs: m.AvgLatencyMs(),
			CircuitState: o.tracker.Breaker(id).State().String(),
			InFlight:     m.InFlight,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
