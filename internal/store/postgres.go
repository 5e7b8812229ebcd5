package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/db"
	"github.com/civicsense/analysis-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_claim_by_key":    `SELECT id, text, scope, timeframe, canonical_key, status, created_at FROM claims WHERE canonical_key = $1`,
	"insert_provider_run": `INSERT INTO provider_runs (id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"list_provider_runs":  `SELECT id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at FROM provider_runs WHERE claim_id = $1 ORDER BY created_at ASC, id ASC`,
	"get_source_trust":    `SELECT score FROM source_trust WHERE domain = $1`,
	"get_cached_response": `SELECT key, text, provider, created_at, expires_at FROM response_cache WHERE key = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	text          TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	timeframe     TEXT NOT NULL DEFAULT '',
	canonical_key TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	claim_id    TEXT NOT NULL REFERENCES claims(id),
	provider    TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	rationale   TEXT,
	sources     JSONB,
	cost_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	raw_output  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS consensus_verdicts (
	claim_id        TEXT PRIMARY KEY REFERENCES claims(id),
	method          TEXT NOT NULL,
	verdict         TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	balance_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	diversity_index DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id     TEXT,
	claim_id   TEXT,
	action     TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_trust (
	domain     TEXT PRIMARY KEY,
	score      DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	provider   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	content     TEXT NOT NULL,
	locale      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	claims      JSONB,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_eur    DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_claims_canonical_key ON claims(canonical_key);
CREATE INDEX IF NOT EXISTS idx_provider_runs_claim_id ON provider_runs(claim_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_job_id ON audit_log(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_claim_id ON audit_log(claim_id);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertClaim(ctx context.Context, text, scope, timeframe string) (*model.Claim, bool, error) {
	key := model.CanonicalClaimKey(text, scope, timeframe)
	id := uuid.New().String()
	now := time.Now().UTC()

	// ON CONFLICT DO NOTHING returns no row for an existing key, so the
	// follow-up select resolves both branches.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO claims (id, text, scope, timeframe, canonical_key, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (canonical_key) DO NOTHING`,
		id, text, scope, timeframe, key, string(model.ClaimOpen), now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: upsert claim")
	}

	var c model.Claim
	err = s.pool.QueryRow(ctx,
		`SELECT id, text, scope, timeframe, canonical_key, status, created_at FROM claims WHERE canonical_key = $1`,
		key,
	).Scan(&c.ID, &c.Text, &c.Scope, &c.Timeframe, &c.CanonicalKey, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get claim by key")
	}
	return &c, c.ID == id, nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, claimID string) (*model.Claim, error) {
	var c model.Claim
	err := s.pool.QueryRow(ctx,
		`SELECT id, text, scope, timeframe, canonical_key, status, created_at FROM claims WHERE id = $1`,
		claimID,
	).Scan(&c.ID, &c.Text, &c.Scope, &c.Timeframe, &c.CanonicalKey, &c.Status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("claim not found: %s", claimID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get claim %s", claimID)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateClaimStatus(ctx context.Context, claimID string, status model.ClaimStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claims SET status = $1 WHERE id = $2`, string(status), claimID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update claim status %s", claimID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("claim not found: %s", claimID)
	}
	return nil
}

func (s *PostgresStore) AppendProviderRun(ctx context.Context, run model.ProviderRun) (*model.ProviderRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO provider_runs (id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.ClaimID, run.Provider, string(run.Verdict), run.Confidence,
		run.Rationale, sourcesJSON, run.CostTokens, run.LatencyMs, run.RawOutput, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert provider run for claim %s", run.ClaimID)
	}
	return &run, nil
}

func (s *PostgresStore) ListProviderRuns(ctx context.Context, claimID string) ([]model.ProviderRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at
		 FROM provider_runs WHERE claim_id = $1 ORDER BY created_at ASC, id ASC`, claimID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provider runs")
	}
	defer rows.Close()

	var runs []model.ProviderRun
	for rows.Next() {
		var r model.ProviderRun
		var rationale, rawOutput *string
		var sourcesJSON []byte
		if err := rows.Scan(&r.ID, &r.ClaimID, &r.Provider, &r.Verdict, &r.Confidence,
			&rationale, &sourcesJSON, &r.CostTokens, &r.LatencyMs, &rawOutput, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider run")
		}
		if rationale != nil {
			r.Rationale = *rationale
		}
		if rawOutput != nil {
			r.RawOutput = *rawOutput
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &r.Sources); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run sources")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list provider runs iterate")
}

func (s *PostgresStore) SaveConsensusVerdict(ctx context.Context, v model.ConsensusVerdict) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consensus_verdicts (claim_id, method, verdict, confidence, balance_score, diversity_index, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (claim_id) DO UPDATE SET
			method = EXCLUDED.method,
			verdict = EXCLUDED.verdict,
			confidence = EXCLUDED.confidence,
			balance_score = EXCLUDED.balance_score,
			diversity_index = EXCLUDED.diversity_index,
			updated_at = EXCLUDED.updated_at`,
		v.ClaimID, string(v.Method), string(v.Verdict), v.Confidence, v.BalanceScore, v.DiversityIndex, v.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save consensus verdict for claim %s", v.ClaimID)
}

func (s *PostgresStore) GetConsensusVerdict(ctx context.Context, claimID string) (*model.ConsensusVerdict, error) {
	var v model.ConsensusVerdict
	err := s.pool.QueryRow(ctx,
		`SELECT claim_id, method, verdict, confidence, balance_score, diversity_index, updated_at
		 FROM consensus_verdicts WHERE claim_id = $1`, claimID,
	).Scan(&v.ClaimID, &v.Method, &v.Verdict, &v.Confidence, &v.BalanceScore, &v.DiversityIndex, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get consensus verdict")
	}
	return &v, nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entries ...model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		rows = append(rows, []any{e.ID, e.JobID, e.ClaimID, e.Action, e.Detail, e.CreatedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "audit_log",
		[]string{"id", "job_id", "claim_id", "action", "detail", "created_at"}, rows)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) GetSourceTrust(ctx context.Context, domain string) (float64, bool, error) {
	var score float64
	err := s.pool.QueryRow(ctx,
		`SELECT score FROM source_trust WHERE domain = $1`, domain).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: get source trust")
	}
	return score, true, nil
}

func (s *PostgresStore) SetSourceTrust(ctx context.Context, domain string, score float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO source_trust (domain, score, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (domain) DO UPDATE SET score = EXCLUDED.score, updated_at = EXCLUDED.updated_at`,
		domain, score, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set source trust %s", domain)
}

func (s *PostgresStore) ImportSourceTrust(ctx context.Context, scores map[string]float64) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(scores))
	for domain, score := range scores {
		rows = append(rows, []any{domain, score, now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "source_trust",
		Columns:      []string{"domain", "score", "updated_at"},
		ConflictKeys: []string{"domain"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import source trust")
}

func (s *PostgresStore) GetCachedResponse(ctx context.Context, key string) (*cache.Entry, error) {
	var e cache.Entry
	err := s.pool.QueryRow(ctx,
		`SELECT key, text, provider, created_at, expires_at FROM response_cache
		 WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&e.Key, &e.Text, &e.Provider, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached response")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedResponse(ctx context.Context, e cache.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO response_cache (key, text, provider, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
			text = EXCLUDED.text,
			provider = EXCLUDED.provider,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		e.Key, e.Text, e.Provider, e.CreatedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set cached response")
}

func (s *PostgresStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM response_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired responses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, content, locale string) (*model.FactcheckJob, error) {
	job := &model.FactcheckJob{
		ID:        uuid.New().String(),
		Content:   content,
		Locale:    locale,
		Status:    model.JobQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, content, locale, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.Content, job.Locale, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return job, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, job *model.FactcheckJob) error {
	claimsJSON, err := json.Marshal(job.Claims)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job claims")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, claims = $2, tokens_used = $3, cost_eur = $4, updated_at = $5 WHERE id = $6`,
		string(job.Status), claimsJSON, job.TokensUsed, job.CostEUR, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.FactcheckJob, error) {
	var j model.FactcheckJob
	var claimsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, content, locale, status, claims, tokens_used, cost_eur, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.Content, &j.Locale, &j.Status, &claimsJSON, &j.TokensUsed, &j.CostEUR, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	if len(claimsJSON) > 0 {
		if err := json.Unmarshal(claimsJSON, &j.Claims); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job claims")
		}
	}
	return &j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.FactcheckJob, error) {
	query := `SELECT id, content, locale, status, claims, tokens_used, cost_eur, created_at, updated_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.FactcheckJob
	for rows.Next() {
		var j model.FactcheckJob
		var claimsJSON []byte
		if err := rows.Scan(&j.ID, &j.Content, &j.Locale, &j.Status, &claimsJSON, &j.TokensUsed, &j.CostEUR, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		if len(claimsJSON) > 0 {
			if err := json.Unmarshal(claimsJSON, &j.Claims); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal job claims")
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}
