package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ClaimStatus tracks the per-claim state machine.
type ClaimStatus string

const (
	ClaimOpen     ClaimStatus = "open"
	ClaimResolved ClaimStatus = "resolved"
)

// Claim is an atomic, checkable statement extracted from input text. Claims
// are deduplicated across jobs by CanonicalKey: the first sighting creates
// the row, later sightings reuse it.
type Claim struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	Scope        string      `json:"scope,omitempty"`
	Timeframe    string      `json:"timeframe,omitempty"`
	CanonicalKey string      `json:"canonical_key"`
	Status       ClaimStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// CanonicalClaimKey computes the stable dedup key for a claim: a SHA-256 of
// the NFKC-normalized, case-folded, whitespace-collapsed text plus scope and
// timeframe.
func CanonicalClaimKey(text, scope, timeframe string) string {
	normalized := norm.NFKC.String(text)
	normalized = strings.ToLower(normalized)
	normalized = strings.Join(strings.FieldsFunc(normalized, unicode.IsSpace), " ")

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(scope))))
	h.Write([]byte{0x1f})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(timeframe))))
	return hex.EncodeToString(h.Sum(nil))
}

// ProviderRun is one provider attempt for one claim. Rows are append-only;
// a failed call is still recorded, with VerdictPending.
type ProviderRun struct {
	ID         string       `json:"id"`
	ClaimID    string       `json:"claim_id"`
	Provider   string       `json:"provider"`
	Verdict    Verdict      `json:"verdict"`
	Confidence float64      `json:"confidence"`
	Rationale  string       `json:"rationale,omitempty"`
	Sources    []SourceItem `json:"sources,omitempty"`
	CostTokens int          `json:"cost_tokens"`
	LatencyMs  int64        `json:"latency_ms"`
	RawOutput  string       `json:"raw_output,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ConsensusMethod tells whether a verdict came from one run or several.
type ConsensusMethod string

const (
	ConsensusSingle ConsensusMethod = "single"
	ConsensusMulti  ConsensusMethod = "multi"
)

// ConsensusVerdict is the derived, trust-weighted outcome for a claim. It is
// recomputed whenever the claim's provider runs change.
type ConsensusVerdict struct {
	ClaimID        string          `json:"claim_id"`
	Method         ConsensusMethod `json:"method"`
	Verdict        Verdict         `json:"verdict"`
	Confidence     float64         `json:"confidence"`
	BalanceScore   float64         `json:"balance_score"`
	DiversityIndex float64         `json:"diversity_index"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AuditEntry is an append-only audit log record.
type AuditEntry struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id,omitempty"`
	ClaimID   string    `json:"claim_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
