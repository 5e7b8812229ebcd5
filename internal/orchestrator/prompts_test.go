package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/analysis-cli/internal/model"
)

func TestResolve(t *testing.T) {
	tpls := NewTemplates()

	en, err := tpls.Resolve(model.ModeImpact, "en")
	require.NoError(t, err)
	assert.Contains(t, en, "impact")

	de, err := tpls.Resolve(model.ModeImpact, "de")
	require.NoError(t, err)
	assert.NotEqual(t, en, de)

	// Unknown locales fall back to English.
	fallback, err := tpls.Resolve(model.ModeImpact, "fr")
	require.NoError(t, err)
	assert.Equal(t, en, fallback)

	// Locale matching is case-insensitive; empty means English.
	upper, err := tpls.Resolve(model.ModeImpact, " EN ")
	require.NoError(t, err)
	assert.Equal(t, en, upper)

	_, err = tpls.Resolve(model.AnalysisMode("horoscope"), "en")
	require.Error(t, err)
}

func TestBuiltinTemplatesHaveOneMarker(t *testing.T) {
	for key, tpl := range builtinTemplates {
		assert.Equal(t, 1, strings.Count(tpl, inputMarker), key)
	}
}

func TestRenderInputIsOpaque(t *testing.T) {
	out := Render("Check this:\n%s", "50%% done, %d items, %s")
	assert.Equal(t, "Check this:\n50%% done, %d items, %s", out)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"impact.en: \"Custom impact prompt: %s\"\nfactcheck.fr: \"Vérifie: %s\"\n"), 0644))

	tpls := NewTemplates()
	require.NoError(t, tpls.LoadOverlay(path))

	en, err := tpls.Resolve(model.ModeImpact, "en")
	require.NoError(t, err)
	assert.Equal(t, "Custom impact prompt: %s", en)

	fr, err := tpls.Resolve(model.ModeFactcheck, "fr")
	require.NoError(t, err)
	assert.Equal(t, "Vérifie: %s", fr)

	// Untouched entries keep their built-in text.
	de, err := tpls.Resolve(model.ModeImpact, "de")
	require.NoError(t, err)
	assert.Equal(t, builtinTemplates["impact.de"], de)
}

func TestLoadOverlayRejectsBadMarkerCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("impact.en: \"no marker here\"\n"), 0644))

	err := NewTemplates().LoadOverlay(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestLoadOverlayMissingFile(t *testing.T) {
	err := NewTemplates().LoadOverlay(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
