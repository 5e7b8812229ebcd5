// Package cache provides content-addressed caching of provider responses.
// Keys are derived from everything that affects the answer: template
// version, prompt, normalized input, locale, and provider identity. A
// template bump therefore invalidates the whole cache without any explicit
// flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// sep is an ASCII unit separator, chosen so no field can collide with a
// neighbor by containing the delimiter.
const sep = "\x1f"

// Key derives the deterministic cache key for one provider call.
func Key(templateVersion, promptKey, input, locale, providerID string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		templateVersion,
		promptKey,
		normalizeInput(input),
		locale,
		providerID,
	}, sep)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeInput collapses whitespace and case so that trivially reworded
// submissions of the same text hit the same entry.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Entry is one cached provider response. Text is the raw response body;
// parsing and validation happen again on every read so a schema change
// never resurrects stale shapes.
type Entry struct {
	Key       string
	Text      string
	Provider  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Cache is the read-through store for provider responses.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, e Entry) error
}

// Memory is an in-process Cache with TTL eviction on read.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemory creates an in-memory cache. A non-positive ttl means entries
// never expire.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Get returns the entry for key if present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (*Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.ExpiresAt.IsZero() && m.nowFunc().After(e.ExpiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return &e, true, nil
}

// Set stores e, stamping CreatedAt/ExpiresAt if unset.
func (m *Memory) Set(_ context.Context, e Entry) error {
	now := m.nowFunc()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ExpiresAt.IsZero() && m.ttl > 0 {
		e.ExpiresAt = now.Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[e.Key] = e
	m.mu.Unlock()
	return nil
}

// Len reports the number of live entries, expired ones included until read.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ResponseStore is the persistence surface the store-backed cache needs.
type ResponseStore interface {
	GetCachedResponse(ctx context.Context, key string) (*Entry, error)
	SetCachedResponse(ctx context.Context, e Entry) error
}

// Stored is a Cache backed by the persistent store, so cache hits survive
// process restarts. Write failures are logged and swallowed: a broken cache
// must never fail the call it was meant to speed up.
type Stored struct {
	store ResponseStore
	ttl   time.Duration

	nowFunc func() time.Time
}

// NewStored creates a store-backed cache.
func NewStored(store ResponseStore, ttl time.Duration) *Stored {
	return &Stored{store: store, ttl: ttl, nowFunc: time.Now}
}

// Get loads the entry for key, treating expired rows as misses.
func (s *Stored) Get(ctx context.Context, key string) (*Entry, bool, error) {
	e, err := s.store.GetCachedResponse(ctx, key)
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: get cached response")
	}
	if e == nil {
		return nil, false, nil
	}
	if !e.ExpiresAt.IsZero() && s.nowFunc().After(e.ExpiresAt) {
		return nil, false, nil
	}
	return e, true, nil
}

// Set persists e. Errors are logged, not returned.
func (s *Stored) Set(ctx context.Context, e Entry) error {
	now := s.nowFunc()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ExpiresAt.IsZero() && s.ttl > 0 {
		e.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.store.SetCachedResponse(ctx, e); err != nil {
		zap.L().Warn("cache write failed",
			zap.String("key", e.Key),
			zap.Error(err))
	}
	return nil
}
