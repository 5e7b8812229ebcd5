// Package model defines the core domain types shared across the analysis
// and fact-check pipelines.
package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// AnalysisMode selects which analysis shape a request produces.
type AnalysisMode string

const (
	ModeImpact       AnalysisMode = "impact"
	ModeAlternatives AnalysisMode = "alternatives"
	ModeFactcheck    AnalysisMode = "factcheck"
)

// Valid reports whether the mode is one of the known analysis modes.
func (m AnalysisMode) Valid() bool {
	switch m {
	case ModeImpact, ModeAlternatives, ModeFactcheck:
		return true
	}
	return false
}

// AnalysisRequest is an immutable incoming request. One is created per
// request and never mutated.
type AnalysisRequest struct {
	Mode    AnalysisMode `json:"mode"`
	Content string       `json:"content"`
	Locale  string       `json:"locale"`
}

// Confidence is a normalized confidence value in [0,1]. Provider output may
// carry it as a number or as one of the enum labels low/medium/high, which
// map to fixed numeric anchors.
type Confidence float64

// Enum label anchors for Confidence.
const (
	ConfidenceLow    Confidence = 0.25
	ConfidenceMedium Confidence = 0.6
	ConfidenceHigh   Confidence = 0.85
)

// UnmarshalJSON accepts either a JSON number or an enum label and always
// yields a clamped value in [0,1].
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*c = Confidence(clamp01(num))
		return nil
	}

	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return eris.Errorf("model: confidence must be number or label, got %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		*c = ConfidenceLow
	case "medium", "med":
		*c = ConfidenceMedium
	case "high":
		*c = ConfidenceHigh
	default:
		return eris.Errorf("model: unknown confidence label %q", label)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Level is a coarse categorical rating used by alternative options.
type Level string

const (
	LevelLow  Level = "low"
	LevelMed  Level = "med"
	LevelHigh Level = "high"
)

// Verdict is the outcome of checking a single claim.
type Verdict string

const (
	VerdictTrue       Verdict = "true"
	VerdictFalse      Verdict = "false"
	VerdictMixed      Verdict = "mixed"
	VerdictUnverified Verdict = "unverified"
	// VerdictPending marks a provider run that produced no usable output.
	VerdictPending Verdict = "pending"
)

// SourceItem is a cited source. URL and publisher are optional; at least one
// of title or URL is present in validated output.
type SourceItem struct {
	Title     string `json:"title,omitempty"`
	URL       string `json:"url,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Date      string `json:"date,omitempty"`
}

// DedupKey returns the deduplication key: lowercase URL when present,
// lowercase title otherwise.
func (s SourceItem) DedupKey() string {
	if s.URL != "" {
		return strings.ToLower(strings.TrimSpace(s.URL))
	}
	return strings.ToLower(strings.TrimSpace(s.Title))
}

// ImpactItem is one claim in an impact analysis.
type ImpactItem struct {
	Claim      string       `json:"claim"`
	Direction  string       `json:"direction"`
	Magnitude  float64      `json:"magnitude"`
	Confidence Confidence   `json:"confidence"`
	Sources    []SourceItem `json:"sources,omitempty"`
}

// ImpactAnalysis estimates the consequences of a proposal or event.
type ImpactAnalysis struct {
	Summary           string       `json:"summary"`
	Items             []ImpactItem `json:"items"`
	OverallConfidence Confidence   `json:"overallConfidence"`
}

// AlternativeOption is one proposed alternative with its trade-offs.
type AlternativeOption struct {
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Pros           []string     `json:"pros,omitempty"`
	Cons           []string     `json:"cons,omitempty"`
	Feasibility    Level        `json:"feasibility"`
	ExpectedImpact Level        `json:"expectedImpact"`
	Confidence     Confidence   `json:"confidence"`
	Sources        []SourceItem `json:"sources,omitempty"`
}

// AlternativesAnalysis proposes alternative courses of action.
type AlternativesAnalysis struct {
	Summary string              `json:"summary"`
	Options []AlternativeOption `json:"options"`
}

// FactcheckItem is one checked claim in a factcheck analysis.
type FactcheckItem struct {
	Claim      string       `json:"claim"`
	Verdict    Verdict      `json:"verdict"`
	Rationale  string       `json:"rationale,omitempty"`
	Confidence Confidence   `json:"confidence"`
	Sources    []SourceItem `json:"sources,omitempty"`
}

// FactcheckAnalysis holds per-claim verdicts for the input text.
type FactcheckAnalysis struct {
	Summary string          `json:"summary"`
	Items   []FactcheckItem `json:"items"`
}

// Analysis is a tagged union over the three analysis shapes. Exactly one of
// the payload pointers is non-nil, matching Type.
type Analysis struct {
	Type         AnalysisMode
	Impact       *ImpactAnalysis
	Alternatives *AlternativesAnalysis
	Factcheck    *FactcheckAnalysis
}

// analysisEnvelope is the wire shape: the payload fields are flattened next
// to the type tag.
type analysisEnvelope struct {
	Type AnalysisMode `json:"type"`

	Summary           string              `json:"summary"`
	Items             json.RawMessage     `json:"items,omitempty"`
	OverallConfidence *Confidence         `json:"overallConfidence,omitempty"`
	Options           []AlternativeOption `json:"options,omitempty"`
}

// MarshalJSON flattens the active payload next to the type tag.
func (a Analysis) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ModeImpact:
		if a.Impact == nil {
			return nil, eris.New("model: impact analysis missing payload")
		}
		return json.Marshal(struct {
			Type AnalysisMode `json:"type"`
			*ImpactAnalysis
		}{ModeImpact, a.Impact})
	case ModeAlternatives:
		if a.Alternatives == nil {
			return nil, eris.New("model: alternatives analysis missing payload")
		}
		return json.Marshal(struct {
			Type AnalysisMode `json:"type"`
			*AlternativesAnalysis
		}{ModeAlternatives, a.Alternatives})
	case ModeFactcheck:
		if a.Factcheck == nil {
			return nil, eris.New("model: factcheck analysis missing payload")
		}
		return json.Marshal(struct {
			Type AnalysisMode `json:"type"`
			*FactcheckAnalysis
		}{ModeFactcheck, a.Factcheck})
	}
	return nil, eris.Errorf("model: unknown analysis type %q", a.Type)
}

// UnmarshalJSON dispatches on the type tag and decodes the matching payload.
func (a *Analysis) UnmarshalJSON(data []byte) error {
	var env analysisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return eris.Wrap(err, "model: decode analysis envelope")
	}

	a.Type = env.Type
	switch env.Type {
	case ModeImpact:
		var payload ImpactAnalysis
		if err := json.Unmarshal(data, &payload); err != nil {
			return eris.Wrap(err, "model: decode impact analysis")
		}
		a.Impact = &payload
	case ModeAlternatives:
		var payload AlternativesAnalysis
		if err := json.Unmarshal(data, &payload); err != nil {
			return eris.Wrap(err, "model: decode alternatives analysis")
		}
		a.Alternatives = &payload
	case ModeFactcheck:
		var payload FactcheckAnalysis
		if err := json.Unmarshal(data, &payload); err != nil {
			return eris.Wrap(err, "model: decode factcheck analysis")
		}
		a.Factcheck = &payload
	default:
		return eris.Errorf("model: unknown analysis type %q", env.Type)
	}
	return nil
}

// Summary returns the summary of the active payload.
func (a Analysis) Summary() string {
	switch a.Type {
	case ModeImpact:
		if a.Impact != nil {
			return a.Impact.Summary
		}
	case ModeAlternatives:
		if a.Alternatives != nil {
			return a.Alternatives.Summary
		}
	case ModeFactcheck:
		if a.Factcheck != nil {
			return a.Factcheck.Summary
		}
	}
	return ""
}
