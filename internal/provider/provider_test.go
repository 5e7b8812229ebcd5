package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "structure", want: RoleStructure},
		{in: "context", want: RoleContext},
		{in: "questions", want: RoleQuestions},
		{in: "knots", want: RoleKnots},
		{in: "mixed", want: RoleMixed},
		{in: "oracle", wantErr: true},
		{in: "", wantErr: true},
		{in: "Structure", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_PromptGuidance_Distinct(t *testing.T) {
	roles := []Role{RoleStructure, RoleContext, RoleQuestions, RoleKnots, RoleMixed}
	seen := make(map[string]Role)
	for _, r := range roles {
		g := r.PromptGuidance()
		require.NotEmpty(t, g)
		prev, dup := seen[g]
		assert.False(t, dup, "roles %s and %s share guidance", prev, r)
		seen[g] = r
	}
}

type stubAdapter struct {
	result *CallResult
	err    error
	calls  int
}

func (s *stubAdapter) Call(context.Context, CallRequest) (*CallResult, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &stubAdapter{result: &CallResult{Text: "ok"}}

	require.NoError(t, r.Register(Profile{ID: "p1", Enabled: true}, a))

	got, prof, ok := r.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", prof.ID)
	res, err := got.Call(context.Background(), CallRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	_, _, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Profile{ID: "p1"}, &stubAdapter{}))
	err := r.Register(Profile{ID: "p1"}, &stubAdapter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegistry_EmptyID(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Profile{}, &stubAdapter{}))
}

func TestRegistry_EnabledPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Profile{ID: "c", Enabled: true}, &stubAdapter{}))
	require.NoError(t, r.Register(Profile{ID: "a", Enabled: false}, &stubAdapter{}))
	require.NoError(t, r.Register(Profile{ID: "b", Enabled: true}, &stubAdapter{}))

	assert.Equal(t, []string{"c", "b"}, r.Enabled())
	assert.Equal(t, []string{"c", "a", "b"}, r.All())
}

func TestRegistry_WaitUnknownProvider(t *testing.T) {
	r := NewRegistry()
	err := r.Wait(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRegistry_WaitRespectsRateLimit(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Profile{ID: "slow", RatePerSec: 5}, &stubAdapter{}))

	ctx := context.Background()
	start := time.Now()
	// Burst of 1: the second call must wait about 200ms.
	require.NoError(t, r.Wait(ctx, "slow"))
	require.NoError(t, r.Wait(ctx, "slow"))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRegistry_WaitUnlimitedByDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Profile{ID: "fast"}, &stubAdapter{}))

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Wait(context.Background(), "fast"))
	}
	assert.Less(t, time.Since(start), time.Second)
}
