package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsense/analysis-cli/internal/model"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidateImpact(t *testing.T) {
	v := newValidator(t)

	raw := json.RawMessage(`{
		"type": "impact",
		"summary": "tax cut effects",
		"items": [
			{"claim": "consumer spending rises", "direction": "positive", "magnitude": 0.6, "confidence": 0.8},
			{"claim": "deficit grows", "direction": "negative", "magnitude": 0.4, "confidence": "high"}
		],
		"overallConfidence": "medium"
	}`)

	a, err := v.Validate(model.ModeImpact, raw)
	require.NoError(t, err)
	require.NotNil(t, a.Impact)

	assert.Equal(t, model.ModeImpact, a.Type)
	require.Len(t, a.Impact.Items, 2)
	assert.Equal(t, model.Confidence(0.8), a.Impact.Items[0].Confidence)
	// Enum labels map to fixed anchors.
	assert.Equal(t, model.ConfidenceHigh, a.Impact.Items[1].Confidence)
	assert.Equal(t, model.ConfidenceMedium, a.Impact.OverallConfidence)
}

func TestValidateAlternativesNormalizesLevels(t *testing.T) {
	v := newValidator(t)

	raw := json.RawMessage(`{
		"type": "alternatives",
		"summary": "options",
		"options": [
			{"title": "phase in", "description": "gradual rollout", "feasibility": "medium", "expectedImpact": "high", "confidence": 0.7}
		]
	}`)

	a, err := v.Validate(model.ModeAlternatives, raw)
	require.NoError(t, err)
	require.NotNil(t, a.Alternatives)

	assert.Equal(t, model.LevelMed, a.Alternatives.Options[0].Feasibility)
	assert.Equal(t, model.LevelHigh, a.Alternatives.Options[0].ExpectedImpact)
}

func TestValidateFactcheck(t *testing.T) {
	v := newValidator(t)

	raw := json.RawMessage(`{
		"type": "factcheck",
		"summary": "checked",
		"items": [
			{"claim": "the earth is round", "verdict": "true", "confidence": 0.9, "sources": [{"url": "https://example.org"}]}
		]
	}`)

	a, err := v.Validate(model.ModeFactcheck, raw)
	require.NoError(t, err)
	require.NotNil(t, a.Factcheck)
	assert.Equal(t, model.VerdictTrue, a.Factcheck.Items[0].Verdict)
}

func TestValidateRejections(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		mode model.AnalysisMode
		raw  string
	}{
		{
			name: "empty items",
			mode: model.ModeImpact,
			raw:  `{"type":"impact","summary":"s","items":[]}`,
		},
		{
			name: "missing summary",
			mode: model.ModeFactcheck,
			raw:  `{"type":"factcheck","items":[{"claim":"c","verdict":"true","confidence":0.5}]}`,
		},
		{
			name: "unknown verdict",
			mode: model.ModeFactcheck,
			raw:  `{"type":"factcheck","summary":"s","items":[{"claim":"c","verdict":"maybe","confidence":0.5}]}`,
		},
		{
			name: "source without title or url",
			mode: model.ModeFactcheck,
			raw:  `{"type":"factcheck","summary":"s","items":[{"claim":"c","verdict":"true","confidence":0.5,"sources":[{"publisher":"p"}]}]}`,
		},
		{
			name: "magnitude out of range",
			mode: model.ModeImpact,
			raw:  `{"type":"impact","summary":"s","items":[{"claim":"c","direction":"positive","magnitude":1.5,"confidence":0.5}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.mode, json.RawMessage(tt.raw))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Violations)
		})
	}
}

func TestValidateTypeModeMismatch(t *testing.T) {
	v := newValidator(t)

	// Structurally valid impact payload offered as factcheck.
	raw := json.RawMessage(`{"type":"impact","summary":"s","items":[{"claim":"c","direction":"positive","magnitude":0.5,"confidence":0.5}]}`)
	_, err := v.Validate(model.ModeFactcheck, raw)
	require.Error(t, err)
}

func TestValidateUnknownMode(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate(model.AnalysisMode("horoscope"), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema for mode")
}
