// Package store persists claims, provider runs, consensus verdicts, audit
// entries, trust scores, cached responses, and fact-check jobs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/model"
)

// JobFilter specifies criteria for listing fact-check jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis and fact-check
// pipelines.
type Store interface {
	// Claims. UpsertClaim dedups by canonical key: the second return is true
	// when a new row was created, false when an existing claim was reused.
	UpsertClaim(ctx context.Context, text, scope, timeframe string) (*model.Claim, bool, error)
	GetClaim(ctx context.Context, claimID string) (*model.Claim, error)
	UpdateClaimStatus(ctx context.Context, claimID string, status model.ClaimStatus) error

	// Provider runs are append-only evidence.
	AppendProviderRun(ctx context.Context, run model.ProviderRun) (*model.ProviderRun, error)
	ListProviderRuns(ctx context.Context, claimID string) ([]model.ProviderRun, error)

	// Consensus verdicts, one per claim, recomputed on change.
	SaveConsensusVerdict(ctx context.Context, v model.ConsensusVerdict) error
	GetConsensusVerdict(ctx context.Context, claimID string) (*model.ConsensusVerdict, error)

	// Audit log, append-only.
	AppendAudit(ctx context.Context, entries ...model.AuditEntry) error

	// Source trust per domain.
	GetSourceTrust(ctx context.Context, domain string) (float64, bool, error)
	SetSourceTrust(ctx context.Context, domain string, score float64) error
	ImportSourceTrust(ctx context.Context, scores map[string]float64) (int64, error)

	// Response cache.
	GetCachedResponse(ctx context.Context, key string) (*cache.Entry, error)
	SetCachedResponse(ctx context.Context, e cache.Entry) error
	DeleteExpiredResponses(ctx context.Context) (int, error)

	// Fact-check jobs.
	CreateJob(ctx context.Context, content, locale string) (*model.FactcheckJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	CompleteJob(ctx context.Context, job *model.FactcheckJob) error
	GetJob(ctx context.Context, jobID string) (*model.FactcheckJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.FactcheckJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures the backing database.
type Config struct {
	Driver string      `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DSN    string      `yaml:"dsn" mapstructure:"dsn"`
	Pool   *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "analysis.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
