// Package telemetry records provider call outcomes and usage totals.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/model"
	"github.com/civicsense/analysis-cli/internal/resilience"
)

// CallRecord captures one provider invocation, successful or not.
type CallRecord struct {
	Provider  string    `json:"provider"`
	Mode      string    `json:"mode,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	ClaimID   string    `json:"claim_id,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostEUR   float64   `json:"cost_eur"`
	At        time.Time `json:"at"`
}

// UsageSummary aggregates call records for reporting.
type UsageSummary struct {
	Calls     int     `json:"calls"`
	Successes int     `json:"successes"`
	CacheHits int     `json:"cache_hits"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostEUR   float64 `json:"cost_eur"`
}

// Sink receives call records. Implementations must not block the caller on
// failure; telemetry is best-effort.
type Sink interface {
	Record(ctx context.Context, rec CallRecord)
}

// Nop discards all records.
type Nop struct{}

func (Nop) Record(context.Context, CallRecord) {}

// ZapSink logs each record through the global logger.
type ZapSink struct{}

func (ZapSink) Record(_ context.Context, rec CallRecord) {
	fields := []zap.Field{
		zap.String("provider", rec.Provider),
		zap.Bool("cache_hit", rec.CacheHit),
		zap.Bool("success", rec.Success),
		zap.Int64("latency_ms", rec.LatencyMs),
		zap.Int("tokens_in", rec.TokensIn),
		zap.Int("tokens_out", rec.TokensOut),
		zap.Float64("cost_eur", rec.CostEUR),
	}
	if rec.Mode != "" {
		fields = append(fields, zap.String("mode", rec.Mode))
	}
	if rec.ClaimID != "" {
		fields = append(fields, zap.String("claim_id", rec.ClaimID))
	}
	if rec.ErrorKind != "" {
		fields = append(fields, zap.String("error_kind", rec.ErrorKind))
	}
	zap.L().Info("provider call", fields...)
}

// Aggregator accumulates per-provider usage totals in memory.
type Aggregator struct {
	mu    sync.Mutex
	byKey map[string]*UsageSummary
	total UsageSummary
}

func NewAggregator() *Aggregator {
	return &Aggregator{byKey: make(map[string]*UsageSummary)}
}

func (a *Aggregator) Record(_ context.Context, rec CallRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.byKey[rec.Provider]
	if s == nil {
		s = &UsageSummary{}
		a.byKey[rec.Provider] = s
	}
	for _, dst := range []*UsageSummary{s, &a.total} {
		dst.Calls++
		if rec.Success {
			dst.Successes++
		}
		if rec.CacheHit {
			dst.CacheHits++
		}
		dst.TokensIn += rec.TokensIn
		dst.TokensOut += rec.TokensOut
		dst.CostEUR += rec.CostEUR
	}
}

// ByProvider returns a copy of the per-provider summaries.
func (a *Aggregator) ByProvider() map[string]UsageSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]UsageSummary, len(a.byKey))
	for k, v := range a.byKey {
		out[k] = *v
	}
	return out
}

// Total returns the aggregate across all providers.
func (a *Aggregator) Total() UsageSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// AuditWriter is the slice of the store needed by AuditSink.
type AuditWriter interface {
	AppendAudit(ctx context.Context, entries ...model.AuditEntry) error
}

// AuditSink persists call records as audit entries. Write failures are
// retried once and then logged; a broken audit trail must not fail the
// pipeline that produced the record.
type AuditSink struct {
	writer AuditWriter
	retry  resilience.RetryConfig
}

func NewAuditSink(w AuditWriter) *AuditSink {
	return &AuditSink{
		writer: w,
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 100 * time.Millisecond,
			ShouldRetry:    func(error) bool { return true },
		},
	}
}

func (s *AuditSink) Record(ctx context.Context, rec CallRecord) {
	outcome := "ok"
	if !rec.Success {
		outcome = rec.ErrorKind
		if outcome == "" {
			outcome = "error"
		}
	}
	entry := model.AuditEntry{
		JobID:   rec.JobID,
		ClaimID: rec.ClaimID,
		Action:  "provider_call",
		Detail: fmt.Sprintf("provider=%s outcome=%s cache_hit=%t latency_ms=%d tokens=%d cost_eur=%.6f",
			rec.Provider, outcome, rec.CacheHit, rec.LatencyMs, rec.TokensIn+rec.TokensOut, rec.CostEUR),
	}

	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.writer.AppendAudit(ctx, entry)
	})
	if err != nil {
		zap.L().Warn("telemetry: audit write failed",
			zap.String("provider", rec.Provider),
			zap.Error(err))
	}
}

// Multi fans a record out to every sink.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec CallRecord) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}
