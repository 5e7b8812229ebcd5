package factcheck

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/civicsense/analysis-cli/internal/resilience"
)

// ErrBudgetExhausted is returned by Reserve when the requested tokens do not
// fit the remaining budget. It is a skip signal, not a failure.
var ErrBudgetExhausted = resilience.WithKind(resilience.KindBudget,
	eris.New("factcheck: token budget exhausted"))

// Budget is a shared token budget for one job. Reserve is a
// check-and-increment under one mutex, so concurrent claim workers cannot
// collectively overshoot the limit.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

// NewBudget creates a budget. A non-positive limit means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Reserve claims estimate tokens from the budget. Returns ErrBudgetExhausted
// without mutating state when the estimate does not fit.
func (b *Budget) Reserve(estimate int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.used+estimate > b.limit {
		return ErrBudgetExhausted
	}
	b.used += estimate
	return nil
}

// Settle replaces a reservation's estimate with the actual token count once
// the call finishes.
func (b *Budget) Settle(estimate, actual int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used += actual - estimate
	if b.used < 0 {
		b.used = 0
	}
}

// Used returns the tokens consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns the tokens left, or -1 for an unlimited budget.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return -1
	}
	r := b.limit - b.used
	if r < 0 {
		r = 0
	}
	return r
}
