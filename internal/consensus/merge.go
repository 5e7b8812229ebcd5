// Package consensus merges analyses of the same type from several providers
// into one reconciled analysis.
package consensus

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civicsense/analysis-cli/internal/model"
)

// Summary is the fixed marker carried by every merged analysis, so consumers
// can tell a consensus result from a single-provider one.
const Summary = "Consensus of multiple independent analyses."

// Merge reconciles two or more analyses of the same type. Items are grouped
// by trimmed, case-folded key (claim text or option title); numeric fields
// average, categorical fields take the majority with first-seen winning
// ties. The result always satisfies the same schema as its inputs.
func Merge(candidates []*model.Analysis) (*model.Analysis, error) {
	if len(candidates) == 0 {
		return nil, eris.New("consensus: no candidates to merge")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	mode := candidates[0].Type
	for _, c := range candidates[1:] {
		if c.Type != mode {
			return nil, eris.Errorf("consensus: mixed analysis types %q and %q", mode, c.Type)
		}
	}

	switch mode {
	case model.ModeFactcheck:
		return mergeFactcheck(candidates), nil
	case model.ModeImpact:
		return mergeImpact(candidates), nil
	case model.ModeAlternatives:
		return mergeAlternatives(candidates), nil
	default:
		return nil, eris.Errorf("consensus: unknown analysis type %q", mode)
	}
}

// groupKey normalizes an item key for grouping.
func groupKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// modeOf returns the most frequent value. On a frequency tie the value seen
// earliest in input order wins, keeping merges deterministic.
func modeOf[T comparable](vals []T) T {
	counts := make(map[T]int, len(vals))
	firstIdx := make(map[T]int, len(vals))
	for i, v := range vals {
		if _, seen := counts[v]; !seen {
			firstIdx[v] = i
		}
		counts[v]++
	}

	var best T
	bestCount := 0
	for v, n := range counts {
		if n > bestCount || (n == bestCount && firstIdx[v] < firstIdx[best]) {
			best = v
			bestCount = n
		}
	}
	return best
}

func meanConfidence(vals []model.Confidence) model.Confidence {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += float64(v)
	}
	return model.Confidence(sum / float64(len(vals)))
}

// unionSources dedups sources across providers, preserving first-seen order.
func unionSources(groups ...[]model.SourceItem) []model.SourceItem {
	var out []model.SourceItem
	seen := make(map[string]bool)
	for _, group := range groups {
		for _, s := range group {
			k := s.DedupKey()
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func mergeFactcheck(candidates []*model.Analysis) *model.Analysis {
	type group struct {
		items []model.FactcheckItem
	}
	var order []string
	groups := make(map[string]*group)

	for _, c := range candidates {
		for _, item := range c.Factcheck.Items {
			k := groupKey(item.Claim)
			g, ok := groups[k]
			if !ok {
				g = &group{}
				groups[k] = g
				order = append(order, k)
			}
			g.items = append(g.items, item)
		}
	}

	merged := make([]model.FactcheckItem, 0, len(order))
	for _, k := range order {
		g := groups[k]

		verdicts := make([]model.Verdict, len(g.items))
		confs := make([]model.Confidence, len(g.items))
		sources := make([][]model.SourceItem, len(g.items))
		rationale := ""
		for i, item := range g.items {
			verdicts[i] = item.Verdict
			confs[i] = item.Confidence
			sources[i] = item.Sources
			if rationale == "" {
				rationale = item.Rationale
			}
		}

		merged = append(merged, model.FactcheckItem{
			Claim:      g.items[0].Claim,
			Verdict:    modeOf(verdicts),
			Rationale:  rationale,
			Confidence: meanConfidence(confs),
			Sources:    unionSources(sources...),
		})
	}

	return &model.Analysis{
		Type: model.ModeFactcheck,
		Factcheck: &model.FactcheckAnalysis{
			Summary: Summary,
			Items:   merged,
		},
	}
}

func mergeImpact(candidates []*model.Analysis) *model.Analysis {
	type group struct {
		items []model.ImpactItem
	}
	var order []string
	groups := make(map[string]*group)

	for _, c := range candidates {
		for _, item := range c.Impact.Items {
			k := groupKey(item.Claim)
			g, ok := groups[k]
			if !ok {
				g = &group{}
				groups[k] = g
				order = append(order, k)
			}
			g.items = append(g.items, item)
		}
	}

	merged := make([]model.ImpactItem, 0, len(order))
	var overall []model.Confidence
	for _, k := range order {
		g := groups[k]

		directions := make([]string, len(g.items))
		confs := make([]model.Confidence, len(g.items))
		sources := make([][]model.SourceItem, len(g.items))
		var magSum float64
		for i, item := range g.items {
			directions[i] = item.Direction
			confs[i] = item.Confidence
			sources[i] = item.Sources
			magSum += item.Magnitude
		}

		conf := meanConfidence(confs)
		overall = append(overall, conf)
		merged = append(merged, model.ImpactItem{
			Claim:      g.items[0].Claim,
			Direction:  modeOf(directions),
			Magnitude:  magSum / float64(len(g.items)),
			Confidence: conf,
			Sources:    unionSources(sources...),
		})
	}

	return &model.Analysis{
		Type: model.ModeImpact,
		Impact: &model.ImpactAnalysis{
			Summary:           Summary,
			Items:             merged,
			OverallConfidence: meanConfidence(overall),
		},
	}
}

func mergeAlternatives(candidates []*model.Analysis) *model.Analysis {
	type group struct {
		opts []model.AlternativeOption
	}
	var order []string
	groups := make(map[string]*group)

	for _, c := range candidates {
		for _, opt := range c.Alternatives.Options {
			k := groupKey(opt.Title)
			g, ok := groups[k]
			if !ok {
				g = &group{}
				groups[k] = g
				order = append(order, k)
			}
			g.opts = append(g.opts, opt)
		}
	}

	merged := make([]model.AlternativeOption, 0, len(order))
	for _, k := range order {
		g := groups[k]

		feas := make([]model.Level, len(g.opts))
		impact := make([]model.Level, len(g.opts))
		confs := make([]model.Confidence, len(g.opts))
		sources := make([][]model.SourceItem, len(g.opts))
		for i, opt := range g.opts {
			feas[i] = opt.Feasibility
			impact[i] = opt.ExpectedImpact
			confs[i] = opt.Confidence
			sources[i] = opt.Sources
		}

		merged = append(merged, model.AlternativeOption{
			Title:          g.opts[0].Title,
			Description:    g.opts[0].Description,
			Pros:           unionStrings(g.opts, func(o model.AlternativeOption) []string { return o.Pros }),
			Cons:           unionStrings(g.opts, func(o model.AlternativeOption) []string { return o.Cons }),
			Feasibility:    modeOf(feas),
			ExpectedImpact: modeOf(impact),
			Confidence:     meanConfidence(confs),
			Sources:        unionSources(sources...),
		})
	}

	return &model.Analysis{
		Type: model.ModeAlternatives,
		Alternatives: &model.AlternativesAnalysis{
			Summary: Summary,
			Options: merged,
		},
	}
}

func unionStrings(opts []model.AlternativeOption, pick func(model.AlternativeOption) []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, o := range opts {
		for _, s := range pick(o) {
			k := groupKey(s)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}
