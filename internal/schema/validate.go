// Package schema enforces the structural contracts on parsed provider
// output before it is trusted as an Analysis.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/rotisserie/eris"

	"github.com/civicsense/analysis-cli/internal/model"
)

// Violation is one itemized validation failure.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries every violation found, not just the first.
type ValidationError struct {
	Mode       model.AnalysisMode
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Path, v.Message))
	}
	return fmt.Sprintf("schema: %s analysis invalid: %s", e.Mode, strings.Join(parts, "; "))
}

// Validator checks parsed JSON against the known analysis shapes and decodes
// it into the typed model. Compile the schemas once at construction.
type Validator struct {
	schemas map[model.AnalysisMode]*jsonschema.Schema
}

// NewValidator compiles the embedded schema documents.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	docs := map[model.AnalysisMode]string{
		model.ModeImpact:       impactSchema,
		model.ModeAlternatives: alternativesSchema,
		model.ModeFactcheck:    factcheckSchema,
	}

	schemas := make(map[model.AnalysisMode]*jsonschema.Schema, len(docs))
	for mode, doc := range docs {
		s, err := compiler.Compile([]byte(doc))
		if err != nil {
			return nil, eris.Wrapf(err, "schema: compile %s", mode)
		}
		schemas[mode] = s
	}

	return &Validator{schemas: schemas}, nil
}

// Validate checks raw parsed JSON against the schema for mode and decodes it
// into a model.Analysis with confidence values coerced to [0,1]. On failure
// the returned error is a *ValidationError listing every violation.
func (v *Validator) Validate(mode model.AnalysisMode, raw json.RawMessage) (*model.Analysis, error) {
	s, ok := v.schemas[mode]
	if !ok {
		return nil, eris.Errorf("schema: no schema for mode %q", mode)
	}

	result := s.ValidateJSON([]byte(raw))
	if !result.IsValid() {
		return nil, &ValidationError{
			Mode:       mode,
			Violations: collectViolations(result.ToList()),
		}
	}

	var analysis model.Analysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, eris.Wrap(err, "schema: decode analysis")
	}
	if analysis.Type != mode {
		return nil, &ValidationError{
			Mode: mode,
			Violations: []Violation{{
				Path:    "/type",
				Message: fmt.Sprintf("expected %q, got %q", mode, analysis.Type),
			}},
		}
	}

	normalize(&analysis)
	return &analysis, nil
}

// collectViolations flattens the evaluation tree into (path, message) pairs.
func collectViolations(list *jsonschema.List) []Violation {
	var out []Violation
	var walk func(l *jsonschema.List)
	walk = func(l *jsonschema.List) {
		if l == nil {
			return
		}
		for keyword, msg := range l.Errors {
			out = append(out, Violation{
				Path:    l.InstanceLocation,
				Message: fmt.Sprintf("%s: %s", keyword, msg),
			})
		}
		for i := range l.Details {
			walk(&l.Details[i])
		}
	}
	walk(list)

	if len(out) == 0 {
		out = append(out, Violation{Path: "/", Message: "document does not match schema"})
	}
	return out
}

// normalize canonicalizes categorical levels after decode ("medium" → "med").
func normalize(a *model.Analysis) {
	if a.Alternatives == nil {
		return
	}
	for i := range a.Alternatives.Options {
		opt := &a.Alternatives.Options[i]
		opt.Feasibility = canonLevel(opt.Feasibility)
		opt.ExpectedImpact = canonLevel(opt.ExpectedImpact)
	}
}

func canonLevel(l model.Level) model.Level {
	if l == "medium" {
		return model.LevelMed
	}
	return l
}
