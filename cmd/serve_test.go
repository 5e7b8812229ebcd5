package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/factcheck"
	"github.com/civicsense/analysis-cli/internal/health"
	"github.com/civicsense/analysis-cli/internal/orchestrator"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/resilience"
	"github.com/civicsense/analysis-cli/internal/schema"
	"github.com/civicsense/analysis-cli/internal/store"
)

const impactResponse = `{"type":"impact","summary":"impact","items":[{"claim":"economic growth","direction":"positive","magnitude":0.5,"confidence":0.7,"rationale":"growth"}],"overallConfidence":0.7}`

type fixedAdapter struct {
	text string
}

func (f *fixedAdapter) Call(ctx context.Context, req provider.CallRequest) (*provider.CallResult, error) {
	return &provider.CallResult{Text: f.text, Model: "stub", TokensIn: 10, TokensOut: 10}, nil
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	reg := provider.NewRegistry()
	tracker := health.NewTracker(resilience.DefaultCircuitBreakerConfig())
	require.NoError(t, reg.Register(provider.Profile{
		ID:        "p1",
		Role:      provider.RoleMixed,
		Weight:    1,
		MaxTokens: 100,
		Enabled:   true,
	}, &fixedAdapter{text: impactResponse}))
	tracker.Register("p1")

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	orch := orchestrator.New(reg, tracker, cache.NewMemory(time.Minute), validator,
		orchestrator.NewTemplates(), nil, orchestrator.Config{MaxProviders: 3})

	return &appEnv{
		Store:        st,
		Registry:     reg,
		Tracker:      tracker,
		Orchestrator: orch,
		Factcheck:    factcheck.New(st, reg, tracker, validator, nil, factcheck.Config{}),
	}
}

func TestServeHealth(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServeProviderHealth(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/providers/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeAnalyze(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	body := `{"mode":"impact","input":"raise the minimum wage","locale":"en"}`
	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeAnalyzeRejectsUnknownMode(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json",
		strings.NewReader(`{"mode":"horoscope","input":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeFactcheckRequiresContent(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/factcheck", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeJobs(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/jobs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
