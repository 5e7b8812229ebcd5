package factcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civicsense/analysis-cli/internal/model"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.example.org/article/1", "example.org"},
		{"https://Example.ORG", "example.org"},
		{"http://sub.gov.example/report", "sub.gov.example"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Domain(tt.url), "url %q", tt.url)
	}
}

func run(provider string, verdict model.Verdict, conf float64, urls ...string) model.ProviderRun {
	r := model.ProviderRun{Provider: provider, Verdict: verdict, Confidence: conf}
	for _, u := range urls {
		r.Sources = append(r.Sources, model.SourceItem{Title: "src", URL: u})
	}
	return r
}

func TestWeightedConsensus_SingleRun(t *testing.T) {
	runs := []model.ProviderRun{
		run("p1", model.VerdictTrue, 0.8, "https://example.org/a"),
	}
	v := WeightedConsensus("c1", runs, nil, nil)

	assert.Equal(t, model.VerdictTrue, v.Verdict)
	assert.Equal(t, model.ConsensusSingle, v.Method)
	// 0.8 base + 0.075 unanimous balance + 0.1/3 diversity.
	assert.InDelta(t, 0.908, v.Confidence, 0.01)
	assert.InDelta(t, 1.0, v.BalanceScore, 1e-9)
}

func TestWeightedConsensus_PendingOnly(t *testing.T) {
	runs := []model.ProviderRun{
		{Provider: "p1", Verdict: model.VerdictPending},
		{Provider: "p2", Verdict: model.VerdictPending},
	}
	v := WeightedConsensus("c1", runs, nil, nil)

	assert.Equal(t, model.VerdictUnverified, v.Verdict)
	assert.InDelta(t, 0.1, v.Confidence, 1e-9)
}

func TestWeightedConsensus_ProviderWeightFlipsVerdict(t *testing.T) {
	runs := []model.ProviderRun{
		run("light", model.VerdictTrue, 0.8),
		run("heavy", model.VerdictFalse, 0.8),
	}
	weights := map[string]float64{"light": 1, "heavy": 3}
	weightOf := func(p string) float64 { return weights[p] }

	v := WeightedConsensus("c1", runs, weightOf, nil)
	assert.Equal(t, model.VerdictFalse, v.Verdict)
	assert.Equal(t, model.ConsensusMulti, v.Method)
}

func TestWeightedConsensus_MonotoneInRunConfidence(t *testing.T) {
	mk := func(conf float64) float64 {
		runs := []model.ProviderRun{
			run("p1", model.VerdictTrue, conf, "https://a.example/x"),
			run("p2", model.VerdictFalse, 0.5, "https://b.example/y"),
		}
		return WeightedConsensus("c1", runs, nil, nil).Confidence
	}
	assert.Greater(t, mk(0.9), mk(0.7))
	assert.Greater(t, mk(0.7), mk(0.6))
}

func TestWeightedConsensus_MonotoneInSourceTrust(t *testing.T) {
	mk := func(trustA float64) float64 {
		runs := []model.ProviderRun{
			run("p1", model.VerdictTrue, 0.8, "https://a.example/x"),
			run("p2", model.VerdictFalse, 0.8, "https://b.example/y"),
		}
		trustOf := func(d string) float64 {
			if d == "a.example" {
				return trustA
			}
			return 0.5
		}
		return WeightedConsensus("c1", runs, nil, trustOf).Confidence
	}
	assert.Greater(t, mk(0.9), mk(0.6))
}

func TestWeightedConsensus_DiversityBonus(t *testing.T) {
	one := WeightedConsensus("c1", []model.ProviderRun{
		run("p1", model.VerdictTrue, 0.7, "https://a.example/x"),
	}, nil, nil)
	three := WeightedConsensus("c1", []model.ProviderRun{
		run("p1", model.VerdictTrue, 0.7, "https://a.example/x", "https://b.example/y", "https://c.example/z"),
	}, nil, nil)

	assert.Greater(t, three.Confidence, one.Confidence)
	assert.InDelta(t, 1.0, three.DiversityIndex, 1e-9)
}

func TestWeightedConsensus_ConfidenceClamped(t *testing.T) {
	runs := []model.ProviderRun{
		run("p1", model.VerdictTrue, 1.0, "https://a.example/x", "https://b.example/y", "https://c.example/z"),
		run("p2", model.VerdictTrue, 1.0, "https://d.example/w"),
	}
	v := WeightedConsensus("c1", runs, nil, nil)
	assert.LessOrEqual(t, v.Confidence, 1.0)
	assert.GreaterOrEqual(t, v.Confidence, 0.0)
}
