package factcheck

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/civicsense/analysis-cli/internal/jsonx"
	"github.com/civicsense/analysis-cli/internal/provider"
)

// ClaimDraft is one atomic claim extracted from input text, before it is
// upserted into the store.
type ClaimDraft struct {
	Text      string `json:"text"`
	Scope     string `json:"scope,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

const decomposePromptEN = `Split the following text into atomic, independently verifiable factual claims. Ignore opinions, questions, and rhetoric. For each claim note its scope (where it applies) and timeframe (when it applies) if the text states them.

Respond with only a JSON array of the form:
[{"text":"...","scope":"...","timeframe":"..."}]

Text:
`

// Decomposer extracts checkable claims from free text. When no adapter is
// available or the LLM output is unusable it falls back to a sentence split.
type Decomposer struct {
	adapter   provider.Adapter
	maxClaims int
	maxTokens int
}

// NewDecomposer creates a decomposer. adapter may be nil, in which case only
// the heuristic split is used.
func NewDecomposer(adapter provider.Adapter, maxClaims, maxTokens int) *Decomposer {
	if maxClaims <= 0 {
		maxClaims = 10
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Decomposer{adapter: adapter, maxClaims: maxClaims, maxTokens: maxTokens}
}

// Decompose returns at most maxClaims drafts for content. It never fails:
// the heuristic fallback always produces something for non-empty input.
func (d *Decomposer) Decompose(ctx context.Context, content string) []ClaimDraft {
	if d.adapter != nil {
		if drafts := d.decomposeLLM(ctx, content); len(drafts) > 0 {
			return d.cap(drafts)
		}
	}
	return d.cap(sentenceSplit(content))
}

func (d *Decomposer) decomposeLLM(ctx context.Context, content string) []ClaimDraft {
	result, err := d.adapter.Call(ctx, provider.CallRequest{
		Prompt:    decomposePromptEN + content,
		MaxTokens: d.maxTokens,
	})
	if err != nil {
		zap.L().Warn("claim decomposition call failed, falling back to sentence split", zap.Error(err))
		return nil
	}

	raw, _, err := jsonx.Parse(result.Text)
	if err != nil {
		zap.L().Warn("claim decomposition output unparseable, falling back to sentence split", zap.Error(err))
		return nil
	}

	var drafts []ClaimDraft
	if err := json.Unmarshal(raw, &drafts); err != nil {
		zap.L().Warn("claim decomposition output has wrong shape, falling back to sentence split", zap.Error(err))
		return nil
	}

	out := drafts[:0]
	for _, dr := range drafts {
		dr.Text = strings.TrimSpace(dr.Text)
		if dr.Text != "" {
			out = append(out, dr)
		}
	}
	return out
}

func (d *Decomposer) cap(drafts []ClaimDraft) []ClaimDraft {
	if len(drafts) > d.maxClaims {
		return drafts[:d.maxClaims]
	}
	return drafts
}

// sentenceSplit is the heuristic fallback: sentences long enough to carry a
// factual statement become claims.
func sentenceSplit(content string) []ClaimDraft {
	var drafts []ClaimDraft
	var sb strings.Builder

	flush := func() {
		s := strings.TrimSpace(sb.String())
		sb.Reset()
		if len(strings.Fields(s)) >= 3 {
			drafts = append(drafts, ClaimDraft{Text: s})
		}
	}

	for _, r := range content {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return drafts
}
