// Package health tracks per-provider reliability and performance. Scores
// are soft routing hints: a stale view degrades routing quality, never
// correctness.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/civicsense/analysis-cli/internal/resilience"
)

// Metric holds the rolling counters for one provider. Mutated only through
// the before/after-call hooks.
type Metric struct {
	SuccessCount   int
	FailureCount   int
	TotalLatencyMs int64
	ValidJSONCount int
	LastValidJSON  bool
	InFlight       int
}

// SuccessRate returns the Laplace-smoothed success rate, so that providers
// with no history rank between proven-good and proven-bad ones.
func (m Metric) SuccessRate() float64 {
	return float64(m.SuccessCount+1) / float64(m.SuccessCount+m.FailureCount+2)
}

// ValidJSONRate returns the smoothed rate of syntactically valid output.
// The denominator counts valid-JSON calls and failures only: a transport
// success whose payload was unusable leaves this rate unchanged, so an
// extra success can never drag the overall score down.
func (m Metric) ValidJSONRate() float64 {
	return float64(m.ValidJSONCount+1) / float64(m.ValidJSONCount+m.FailureCount+2)
}

// AvgLatencyMs returns the mean call latency, 0 with no completed calls.
func (m Metric) AvgLatencyMs() float64 {
	total := m.SuccessCount + m.FailureCount
	if total == 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(total)
}

// Tracker is the injectable registry of provider health metrics. It is the
// one piece of long-lived mutable shared state in the subsystem: all
// mutation goes through BeforeCall/AfterCall under a single mutex, so
// concurrent orchestration runs never lose updates.
type Tracker struct {
	mu       sync.Mutex
	metrics  map[string]*Metric
	order    map[string]int // declaration order, for deterministic ties
	next     int
	breakers *resilience.ProviderBreakers
}

// NewTracker creates an empty tracker with per-provider circuit breakers.
func NewTracker(cbCfg resilience.CircuitBreakerConfig) *Tracker {
	return &Tracker{
		metrics:  make(map[string]*Metric),
		order:    make(map[string]int),
		breakers: resilience.NewProviderBreakers(cbCfg),
	}
}

// Register declares a provider. Declaration order is the tie-break order in
// SortByHealth. Registering twice is a no-op.
func (t *Tracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(id)
}

func (t *Tracker) ensureLocked(id string) *Metric {
	m, ok := t.metrics[id]
	if !ok {
		m = &Metric{}
		t.metrics[id] = m
		t.order[id] = t.next
		t.next++
	}
	return m
}

// BeforeCall records the start of a call.
func (t *Tracker) BeforeCall(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(id).InFlight++
}

// AfterCall records the outcome of a call. Circuit breaker accounting is
// separate: callers wrap provider calls with Breaker(id).Execute.
func (t *Tracker) AfterCall(id string, duration time.Duration, success, validJSON bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.ensureLocked(id)
	if m.InFlight > 0 {
		m.InFlight--
	}
	if success {
		m.SuccessCount++
	} else {
		m.FailureCount++
	}
	if validJSON {
		m.ValidJSONCount++
	}
	m.LastValidJSON = validJSON
	m.TotalLatencyMs += duration.Milliseconds()
}

// Snapshot returns a copy of the metric for id.
func (t *Tracker) Snapshot(id string) Metric {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.metrics[id]; ok {
		return *m
	}
	return Metric{}
}

// Score derives the routing weight for a provider. It is monotone
// non-decreasing in success rate and valid-JSON rate and non-increasing in
// average latency.
func (t *Tracker) Score(id string) float64 {
	return ScoreMetric(t.Snapshot(id))
}

// ScoreMetric computes the health score for a metric snapshot.
func ScoreMetric(m Metric) float64 {
	latency := m.AvgLatencyMs()
	latencyPenalty := latency / (latency + 1000)
	return 0.5*m.SuccessRate() + 0.3*m.ValidJSONRate() + 0.2*(1-latencyPenalty)
}

// SortByHealth orders provider ids by descending score. The sort is stable
// and ties fall back to declaration order, so results are reproducible.
func (t *Tracker) SortByHealth(ids []string) []string {
	t.mu.Lock()
	scores := make(map[string]float64, len(ids))
	orders := make(map[string]int, len(ids))
	for _, id := range ids {
		m := t.ensureLocked(id)
		scores[id] = ScoreMetric(*m)
		orders[id] = t.order[id]
	}
	t.mu.Unlock()

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.SliceStable(sorted, func(i, j int) bool {
		if scores[sorted[i]] != scores[sorted[j]] {
			return scores[sorted[i]] > scores[sorted[j]]
		}
		return orders[sorted[i]] < orders[sorted[j]]
	})
	return sorted
}

// Available reports whether the provider's circuit admits a call.
func (t *Tracker) Available(id string) bool {
	return t.breakers.Get(id).State() != resilience.CircuitOpen
}

// Breaker returns the circuit breaker for id. Callers run provider calls
// through it so failures trip the circuit.
func (t *Tracker) Breaker(id string) *resilience.CircuitBreaker {
	return t.breakers.Get(id)
}

// BreakerStates returns a snapshot of all breaker states for diagnostics.
func (t *Tracker) BreakerStates() map[string]resilience.CircuitState {
	return t.breakers.States()
}
