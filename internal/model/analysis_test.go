package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Confidence
	}{
		{"number", `0.42`, 0.42},
		{"number above range clamps", `1.7`, 1},
		{"negative clamps", `-0.3`, 0},
		{"low", `"low"`, ConfidenceLow},
		{"medium", `"medium"`, ConfidenceMedium},
		{"med", `"med"`, ConfidenceMedium},
		{"high", `"HIGH"`, ConfidenceHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Confidence
			require.NoError(t, json.Unmarshal([]byte(tt.in), &c))
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestConfidenceUnmarshalRejectsUnknownLabel(t *testing.T) {
	var c Confidence
	err := json.Unmarshal([]byte(`"probably"`), &c)
	require.Error(t, err)
}

func TestSourceItemDedupKey(t *testing.T) {
	assert.Equal(t, "https://example.org/a",
		SourceItem{Title: "Ignored", URL: "HTTPS://Example.org/a"}.DedupKey())
	assert.Equal(t, "some report",
		SourceItem{Title: " Some Report "}.DedupKey())
}

func TestAnalysisModeValid(t *testing.T) {
	assert.True(t, ModeImpact.Valid())
	assert.True(t, ModeAlternatives.Valid())
	assert.True(t, ModeFactcheck.Valid())
	assert.False(t, AnalysisMode("horoscope").Valid())
}
