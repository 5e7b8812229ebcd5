package orchestrator

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civicsense/analysis-cli/internal/model"
)

// TemplateVersion identifies the active prompt generation. It is part of the
// response-cache key, so bumping it invalidates every cached response.
const TemplateVersion = "2026-02-01"

// inputMarker is the substitution point for the analyzed text. The input is
// opaque: it is spliced in verbatim, never interpreted as a format string.
const inputMarker = "%s"

// builtinTemplates maps "<mode>.<locale>" to the default prompt text.
// Overlay files can replace any entry or add new locales.
var builtinTemplates = map[string]string{
	"impact.en": `Analyze the likely impact of the following text. Identify each distinct impact claim, the direction of the effect (positive, negative, or neutral), its magnitude from 0 to 1, and your confidence.

Respond with only a JSON object of the form:
{"type":"impact","summary":"...","items":[{"claim":"...","direction":"positive|negative|neutral","magnitude":0.0,"confidence":0.0,"rationale":"..."}],"overallConfidence":0.0}

Text:
%s`,

	"impact.de": `Analysiere die voraussichtlichen Auswirkungen des folgenden Textes. Benenne jeden Wirkungsbereich, die Richtung des Effekts (positive, negative oder neutral), seine Stärke von 0 bis 1 und deine Konfidenz.

Antworte ausschließlich mit einem JSON-Objekt der Form:
{"type":"impact","summary":"...","items":[{"claim":"...","direction":"positive|negative|neutral","magnitude":0.0,"confidence":0.0,"rationale":"..."}],"overallConfidence":0.0}

Text:
%s`,

	"alternatives.en": `Propose alternative courses of action for the situation described in the following text. For each option give a short title, a description, pros, cons, feasibility (low, med, high), expected impact (low, med, high), and your confidence.

Respond with only a JSON object of the form:
{"type":"alternatives","summary":"...","options":[{"title":"...","description":"...","pros":["..."],"cons":["..."],"feasibility":"low|med|high","expectedImpact":"low|med|high","confidence":0.0}]}

Text:
%s`,

	"alternatives.de": `Schlage alternative Handlungsoptionen für die im folgenden Text beschriebene Situation vor. Gib für jede Option einen kurzen Titel, eine Beschreibung, Vor- und Nachteile, Machbarkeit (low, med, high), erwartete Wirkung (low, med, high) und deine Konfidenz an.

Antworte ausschließlich mit einem JSON-Objekt der Form:
{"type":"alternatives","summary":"...","options":[{"title":"...","description":"...","pros":["..."],"cons":["..."],"feasibility":"low|med|high","expectedImpact":"low|med|high","confidence":0.0}]}

Text:
%s`,

	"factcheck.en": `Fact-check the following text. Extract each verifiable claim and give a verdict (true, false, mixed, unverified), your confidence, a short rationale, and the sources you relied on.

Respond with only a JSON object of the form:
{"type":"factcheck","summary":"...","items":[{"claim":"...","verdict":"true|false|mixed|unverified","confidence":0.0,"rationale":"...","sources":[{"title":"...","url":"..."}]}]}

Text:
%s`,

	"factcheck.de": `Überprüfe den folgenden Text auf Fakten. Extrahiere jede überprüfbare Behauptung und gib ein Urteil (true, false, mixed, unverified), deine Konfidenz, eine kurze Begründung und die verwendeten Quellen an.

Antworte ausschließlich mit einem JSON-Objekt der Form:
{"type":"factcheck","summary":"...","items":[{"claim":"...","verdict":"true|false|mixed|unverified","confidence":0.0,"rationale":"...","sources":[{"title":"...","url":"..."}]}]}

Text:
%s`,
}

// Templates resolves prompt templates by analysis mode and locale.
type Templates struct {
	byKey map[string]string
}

// NewTemplates returns the built-in template set.
func NewTemplates() *Templates {
	byKey := make(map[string]string, len(builtinTemplates))
	for k, v := range builtinTemplates {
		byKey[k] = v
	}
	return &Templates{byKey: byKey}
}

// LoadOverlay merges a YAML file of "<mode>.<locale>: template" entries over
// the built-ins. Entries must contain exactly one input marker.
func (t *Templates) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: read template overlay %s", path)
	}

	var overlay map[string]string
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return eris.Wrapf(err, "orchestrator: parse template overlay %s", path)
	}

	for key, tpl := range overlay {
		if strings.Count(tpl, inputMarker) != 1 {
			return eris.Errorf("orchestrator: overlay template %q must contain exactly one %s marker", key, inputMarker)
		}
		t.byKey[key] = tpl
	}
	zap.L().Info("loaded template overlay", zap.String("path", path), zap.Int("entries", len(overlay)))
	return nil
}

// Resolve returns the template for (mode, locale), falling back to the
// English template for the mode when the locale has none.
func (t *Templates) Resolve(mode model.AnalysisMode, locale string) (string, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		locale = "en"
	}
	if tpl, ok := t.byKey[string(mode)+"."+locale]; ok {
		return tpl, nil
	}
	if tpl, ok := t.byKey[string(mode)+".en"]; ok {
		return tpl, nil
	}
	return "", eris.Errorf("orchestrator: no template for mode %q", mode)
}

// Render splices the input into the template. The input is opaque text; it
// is never passed through a format function.
func Render(tpl, input string) string {
	return strings.Replace(tpl, inputMarker, input, 1)
}
