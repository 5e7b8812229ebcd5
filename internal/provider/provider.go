// Package provider defines the adapter contract for LLM backends and the
// registry that routes calls to them.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/civicsense/analysis-cli/internal/resilience"
)

// Role describes what perspective a provider contributes to an analysis.
// Closed set; unknown values are rejected at config load.
type Role string

const (
	RoleStructure Role = "structure"
	RoleContext   Role = "context"
	RoleQuestions Role = "questions"
	RoleKnots     Role = "knots"
	RoleMixed     Role = "mixed"
)

// ParseRole validates a role string from config.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStructure, RoleContext, RoleQuestions, RoleKnots, RoleMixed:
		return Role(s), nil
	default:
		return "", eris.Errorf("provider: unknown role %q", s)
	}
}

// PromptGuidance returns the instruction fragment appended to the prompt for
// this role. Dispatch is on the enum, never on substring matching.
func (r Role) PromptGuidance() string {
	switch r {
	case RoleStructure:
		return "Focus on the logical structure of the text: premises, conclusions, and how the argument is built."
	case RoleContext:
		return "Focus on background and context: who is involved, what happened before, and what surrounds this text."
	case RoleQuestions:
		return "Focus on open questions: what is left unanswered, ambiguous, or in need of clarification."
	case RoleKnots:
		return "Focus on tensions and contradictions: where the text conflicts with itself or with known facts."
	default:
		return "Give a balanced, comprehensive reading of the text."
	}
}

// CallRequest is one prompt for one provider.
type CallRequest struct {
	Prompt    string
	MaxTokens int
}

// CallResult is the raw outcome of a provider call, before any parsing.
type CallResult struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	CostEUR   float64
	// Citations lists source URLs for providers that ground their answers
	// in retrieved documents. Empty for pure-generation backends.
	Citations []string
}

// CallError wraps a provider failure with its classification and how long
// the attempt ran before failing.
type CallError struct {
	Kind      resilience.ErrorKind
	ElapsedMs int64
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider call failed (%s after %dms): %v", e.Kind, e.ElapsedMs, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Adapter is a single LLM backend. Implementations do not retry; run-level
// fallback policy belongs to the orchestrator and the claim pipeline.
type Adapter interface {
	Call(ctx context.Context, req CallRequest) (*CallResult, error)
}

// PriceFunc converts token counts for a model into EUR. A nil PriceFunc
// leaves CostEUR at zero.
type PriceFunc func(model string, tokensIn, tokensOut int) float64

// Profile is the static configuration of one provider.
type Profile struct {
	ID         string  `yaml:"id" mapstructure:"id"`
	Kind       string  `yaml:"kind" mapstructure:"kind"` // anthropic | openai | perplexity
	Role       Role    `yaml:"role" mapstructure:"role"`
	Model      string  `yaml:"model" mapstructure:"model"`
	Weight     float64 `yaml:"weight" mapstructure:"weight"`
	MaxTokens  int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutMs  int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	PromptHint string  `yaml:"prompt_hint" mapstructure:"prompt_hint"`
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

type entry struct {
	adapter Adapter
	profile Profile
	limiter *rate.Limiter
}

// Registry holds the registered providers. Iteration order is registration
// order, which doubles as the fixed escalation order for fallbacks.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a provider. Duplicate IDs are an error.
func (r *Registry) Register(p Profile, a Adapter) error {
	if p.ID == "" {
		return eris.New("provider: profile ID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.ID]; exists {
		return eris.Errorf("provider: duplicate provider %q", p.ID)
	}
	limit := rate.Inf
	if p.RatePerSec > 0 {
		limit = rate.Limit(p.RatePerSec)
	}
	r.entries[p.ID] = &entry{
		adapter: a,
		profile: p,
		limiter: rate.NewLimiter(limit, 1),
	}
	r.order = append(r.order, p.ID)
	return nil
}

// Get returns the adapter and profile for id.
func (r *Registry) Get(id string) (Adapter, Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, Profile{}, false
	}
	return e.adapter, e.profile, true
}

// Profile returns the profile for id.
func (r *Registry) Profile(id string) (Profile, bool) {
	_, p, ok := r.Get(id)
	return p, ok
}

// Enabled returns the IDs of all enabled providers in registration order.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if r.entries[id].profile.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// All returns every registered ID in registration order.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Wait blocks until the provider's rate limiter admits one call or the
// context ends.
func (r *Registry) Wait(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return eris.Errorf("provider: unknown provider %q", id)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "provider: rate limit wait for %s", id)
	}
	return nil
}
