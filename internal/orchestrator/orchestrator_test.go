package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/health"
	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/internal/schema"
)

const validFactcheckJSON = `{"type":"factcheck","summary":"checked","items":[{"claim":"the earth is round","verdict":"true","confidence":0.8,"rationale":"well established","sources":[{"title":"Ref","url":"https://example.org/a"}]}]}`

const validImpactJSON = `{"type":"impact","summary":"impact","items":[{"claim":"economic growth","direction":"positive","magnitude":0.5,"confidence":0.7,"rationale":"growth"}],"overallConfidence":0.7}`

// stubAdapter returns a fixed response or error and counts its calls.
type stubAdapter struct {
	text  string
	err   error
	calls atomic.Int64
}

func (s *stubAdapter) Call(ctx context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.CallResult{Text: s.text, Model: "stub", TokensIn: 10, TokensOut: 20, CostEUR: 0.001}, nil
}

type testEnv struct {
	orch     *Orchestrator
	registry *provider.Registry
	tracker  *health.Tracker
}

func newTestEnv(t *testing.T, mem cache.Cache, adapters map[string]*stubAdapter, order []string) *testEnv {
	t.Helper()

	reg := provider.NewRegistry()
	tracker := health.NewTracker(resilience.DefaultCircuitBreakerConfig())
	for _, id := range order {
		require.NoError(t, reg.Register(provider.Profile{
			ID:        id,
			Role:      provider.RoleMixed,
			MaxTokens: 1024,
			Enabled:   true,
		}, adapters[id]))
		tracker.Register(id)
	}

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	orch := New(reg, tracker, mem, validator, NewTemplates(), nil, Config{MaxProviders: 3})
	return &testEnv{orch: orch, registry: reg, tracker: tracker}
}

func TestAnalyze_SingleProviderSuccess(t *testing.T) {
	a := &stubAdapter{text: validFactcheckJSON}
	env := newTestEnv(t, cache.NewMemory(time.Minute), map[string]*stubAdapter{"p1": a}, []string{"p1"})

	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "the earth is round"})
	require.NoError(t, err)
	assert.Equal(t, model.ConsensusSingle, res.Method)
	require.NotNil(t, res.Analysis.Factcheck)
	assert.Equal(t, model.VerdictTrue, res.Analysis.Factcheck.Items[0].Verdict)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 10, res.Candidates[0].TokensIn)
	assert.False(t, res.Candidates[0].CacheHit)
}

func TestAnalyze_MultiProviderConsensus(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {text: validFactcheckJSON},
		"p2": {text: validFactcheckJSON},
	}
	env := newTestEnv(t, cache.NewMemory(time.Minute), adapters, []string{"p1", "p2"})

	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "the earth is round"})
	require.NoError(t, err)
	assert.Equal(t, model.ConsensusMulti, res.Method)
	assert.Len(t, res.Candidates, 2)
	require.NotNil(t, res.Analysis.Factcheck)
	assert.Equal(t, "Consensus of multiple independent analyses.", res.Analysis.Factcheck.Summary)
}

func TestAnalyze_AllProvidersFail_AggregatedError(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {err: &provider.CallError{Kind: resilience.KindTimeout, ElapsedMs: 5000, Err: context.DeadlineExceeded}},
		"p2": {err: &provider.CallError{Kind: resilience.KindTimeout, ElapsedMs: 5000, Err: context.DeadlineExceeded}},
	}
	env := newTestEnv(t, cache.NewMemory(time.Minute), adapters, []string{"p1", "p2"})

	_, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.Error(t, err)
	// The error names every provider and its reason.
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "p2")
	assert.Contains(t, err.Error(), "timeout")

	// Failures hit the health counters.
	assert.Equal(t, 1, env.tracker.Snapshot("p1").FailureCount)
	assert.Equal(t, 1, env.tracker.Snapshot("p2").FailureCount)
}

func TestAnalyze_PartialFailureIsolated(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {err: &provider.CallError{Kind: resilience.KindProvider, Err: assert.AnError}},
		"p2": {text: validFactcheckJSON},
	}
	env := newTestEnv(t, cache.NewMemory(time.Minute), adapters, []string{"p1", "p2"})

	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.NoError(t, err)
	assert.Equal(t, model.ConsensusSingle, res.Method)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "p2", res.Candidates[0].Provider)
}

func TestAnalyze_WarmCacheShortCircuitsAdapter(t *testing.T) {
	a := &stubAdapter{text: validFactcheckJSON}
	mem := cache.NewMemory(time.Minute)
	env := newTestEnv(t, mem, map[string]*stubAdapter{"p1": a}, []string{"p1"})

	req := Request{Mode: model.ModeFactcheck, Input: "the earth is round"}
	_, err := env.orch.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.calls.Load())

	res, err := env.orch.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.calls.Load(), "second request must be served from cache")
	assert.True(t, res.Candidates[0].CacheHit)
}

func TestAnalyze_FencedJSONAccepted(t *testing.T) {
	fenced := "Here is the JSON:\n```json\n" + validImpactJSON + "\n```"
	a := &stubAdapter{text: fenced}
	env := newTestEnv(t, cache.NewMemory(time.Minute), map[string]*stubAdapter{"p1": a}, []string{"p1"})

	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeImpact, Input: "budget cut"})
	require.NoError(t, err)
	require.NotNil(t, res.Analysis.Impact)
	assert.Equal(t, "economic growth", res.Analysis.Impact.Items[0].Claim)
}

func TestAnalyze_InvalidOutputIsFailure(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {text: "I cannot answer that."},
	}
	env := newTestEnv(t, cache.NewMemory(time.Minute), adapters, []string{"p1"})

	_, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "p1")

	// The call itself succeeded, the payload did not.
	m := env.tracker.Snapshot("p1")
	assert.Equal(t, 1, m.SuccessCount)
	assert.Equal(t, 0, m.ValidJSONCount)
}

func TestAnalyze_CrossTypeDisagreement_FirstWins(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {text: validFactcheckJSON},
		"p2": {text: validImpactJSON},
	}
	env := newTestEnv(t, cache.NewMemory(time.Minute), adapters, []string{"p1", "p2"})

	// p2 answers with the wrong shape for the requested mode and is
	// rejected at validation, so only p1 survives.
	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisMode("factcheck"), res.Analysis.Type)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "p1", res.Candidates[0].Provider)
}

func TestAnalyze_EmptyInput(t *testing.T) {
	env := newTestEnv(t, cache.NewMemory(time.Minute), map[string]*stubAdapter{"p1": {text: validFactcheckJSON}}, []string{"p1"})

	_, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty input")
}

func TestAnalyze_MaxProvidersCap(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {text: validFactcheckJSON},
		"p2": {text: validFactcheckJSON},
		"p3": {text: validFactcheckJSON},
	}
	env := newTestEnv(t, nil, adapters, []string{"p1", "p2", "p3"})
	env.orch.cfg.MaxProviders = 2

	res, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
}

func TestHealth_ReportsAllProviders(t *testing.T) {
	adapters := map[string]*stubAdapter{
		"p1": {text: validFactcheckJSON},
		"p2": {err: assert.AnError},
	}
	env := newTestEnv(t, nil, adapters, []string{"p1", "p2"})

	_, err := env.orch.Analyze(context.Background(), Request{Mode: model.ModeFactcheck, Input: "anything"})
	require.NoError(t, err)

	hs := env.orch.Health()
	require.Len(t, hs, 2)
	// The successful provider ranks first.
	assert.Equal(t, "p1", hs[0].ID)
	assert.Greater(t, hs[0].Score, hs[1].Score)
	assert.Equal(t, "closed", hs[0].CircuitState)
}
