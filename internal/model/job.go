package model

import "time"

// JobStatus tracks a fact-check job through its lifecycle. Budget exhaustion
// does not fail a job; only infrastructure errors do.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// FactcheckJob is one fact-check submission: the raw text plus the claims it
// decomposed into and their verdicts.
type FactcheckJob struct {
	ID         string          `json:"id"`
	Content    string          `json:"content"`
	Locale     string          `json:"locale,omitempty"`
	Status     JobStatus       `json:"status"`
	Claims     []ClaimOutcome  `json:"claims,omitempty"`
	TokensUsed int             `json:"tokens_used"`
	CostEUR    float64         `json:"cost_eur"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ClaimOutcome pairs a claim with its consensus verdict for job output.
// A skipped claim was never sent to a provider because the job budget ran
// out; it carries a pending consensus rather than none.
type ClaimOutcome struct {
	Claim     Claim             `json:"claim"`
	Runs      []ProviderRun     `json:"runs,omitempty"`
	Consensus *ConsensusVerdict `json:"consensus,omitempty"`
	Skipped   bool              `json:"skipped,omitempty"`
}
