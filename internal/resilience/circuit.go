// Package resilience classifies provider errors and guards outbound calls
// with retry and circuit-breaker policies.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the admission state of one provider's breaker.
type CircuitState int

const (
	// CircuitClosed admits every call.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen admits probe calls to see whether the provider recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen rejects a call whose provider is currently cut off.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig tunes when a provider is cut off and readmitted.
type CircuitBreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before admitting probes.
	ResetTimeout time.Duration
	// HalfOpenMaxProbes is how many probes must succeed before closing again.
	HalfOpenMaxProbes int
	// ShouldTrip filters which errors count toward the threshold. Nil counts
	// every non-nil error.
	ShouldTrip func(err error) bool
	// OnStateChange observes transitions.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig cuts a provider off after five consecutive
// failures and probes it again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards calls to a single provider. Consecutive failures
// open it; after ResetTimeout it lets probes through, and enough probe
// successes close it again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu             sync.Mutex
	state          CircuitState
	failures       int
	lastFailure    time.Time
	probeSuccesses int

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed breaker, filling zero config values
// with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn if the breaker admits the call and feeds the outcome back
// into the breaker. A rejected call returns ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// ExecuteVal is Execute for calls that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.observe(err)
	return val, err
}

// State reports the effective state: an open breaker whose reset timeout has
// elapsed reads as half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.resetDue() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed, for manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeSuccesses = 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Counters exposes the consecutive failure count and raw state for
// diagnostics.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.state
}

func (cb *CircuitBreaker) resetDue() bool {
	return cb.nowFunc().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.resetDue() {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	tripped := err != nil
	if cb.cfg.ShouldTrip != nil {
		tripped = tripped && cb.cfg.ShouldTrip(err)
	}
	if tripped {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenMaxProbes {
			cb.failures = 0
			cb.probeSuccesses = 0
			cb.transition(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailure = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// One failed probe is enough to cut the provider off again.
		cb.probeSuccesses = 0
		cb.transition(CircuitOpen)
	}
}

// transition must run under cb.mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ProviderBreakers holds one breaker per provider id so a failing backend
// never blocks calls to the others.
type ProviderBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewProviderBreakers creates an empty registry; breakers are built lazily
// from cfg on first use.
func NewProviderBreakers(cfg CircuitBreakerConfig) *ProviderBreakers {
	return &ProviderBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for a provider, creating it on first sight.
func (pb *ProviderBreakers) Get(provider string) *CircuitBreaker {
	pb.mu.RLock()
	cb, ok := pb.breakers[provider]
	pb.mu.RUnlock()
	if ok {
		return cb
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if cb, ok = pb.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(pb.cfg)
	pb.breakers[provider] = cb
	return cb
}

// States snapshots every known breaker's effective state.
func (pb *ProviderBreakers) States() map[string]CircuitState {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	states := make(map[string]CircuitState, len(pb.breakers))
	for id, cb := range pb.breakers {
		states[id] = cb.State()
	}
	return states
}
