package factcheck

import (
	"net/url"
	"strings"
	"time"

	"github.com/civicsense/analysis-cli/internal/model"
)

// DefaultTrust is the score assumed for a domain with no recorded history.
const DefaultTrust = 0.5

// Domain extracts the registrable host from a source URL, lowercased and
// with a leading "www." stripped. Empty for unparseable URLs.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// WeightedConsensus derives the consensus verdict for a claim from its
// provider runs. Each run's vote counts as
//
//	confidence × provider weight × mean source trust
//
// and the verdict with the highest total wins. The final confidence is the
// weighted mean confidence of the winning side, adjusted by evidence balance
// (±0.075 around an even split) and domain diversity (up to +0.1), clamped
// to [0,1]. Runs with VerdictPending carry no vote.
func WeightedConsensus(claimID string, runs []model.ProviderRun, weightOf func(provider string) float64, trustOf func(domain string) float64) model.ConsensusVerdict {
	votes := make(map[model.Verdict]float64)
	mass := make(map[model.Verdict]float64)
	var total float64
	domains := make(map[string]bool)
	var voters int

	for _, r := range runs {
		if r.Verdict == model.VerdictPending {
			continue
		}
		voters++

		weight := 1.0
		if weightOf != nil {
			if w := weightOf(r.Provider); w > 0 {
				weight = w
			}
		}

		trust := DefaultTrust
		if len(r.Sources) > 0 {
			var sum float64
			var n int
			for _, src := range r.Sources {
				d := Domain(src.URL)
				if d == "" {
					continue
				}
				domains[d] = true
				t := DefaultTrust
				if trustOf != nil {
					t = trustOf(d)
				}
				sum += t
				n++
			}
			if n > 0 {
				trust = sum / float64(n)
			}
		}

		votes[r.Verdict] += r.Confidence * weight * trust
		mass[r.Verdict] += weight * trust
		total += r.Confidence * weight * trust
	}

	if voters == 0 || total == 0 {
		return model.ConsensusVerdict{
			ClaimID:    claimID,
			Method:     model.ConsensusSingle,
			Verdict:    model.VerdictUnverified,
			Confidence: 0.1,
			UpdatedAt:  time.Now().UTC(),
		}
	}

	var winner model.Verdict
	var best float64
	for _, v := range []model.Verdict{model.VerdictTrue, model.VerdictFalse, model.VerdictMixed, model.VerdictUnverified} {
		if s, ok := votes[v]; ok && s > best {
			winner, best = v, s
		}
	}

	// Base confidence: how confident the winning side itself is.
	confidence := votes[winner] / mass[winner]

	// Balance: share of total evidence weight behind the winner. A split
	// field pulls confidence down, a unanimous one pushes it up.
	balance := best / total
	confidence += 0.15 * (balance - 0.5)

	// Diversity: independent domains corroborating the answer are worth a
	// small bonus, saturating at three.
	diversity := float64(len(domains)) / 3.0
	if diversity > 1 {
		diversity = 1
	}
	confidence += 0.1 * diversity

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	method := model.ConsensusSingle
	if voters > 1 {
		method = model.ConsensusMulti
	}

	return model.ConsensusVerdict{
		ClaimID:        claimID,
		Method:         method,
		Verdict:        winner,
		Confidence:     confidence,
		BalanceScore:   balance,
		DiversityIndex: diversity,
		UpdatedAt:      time.Now().UTC(),
	}
}
