package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civicsense/analysis-cli/internal/cache"
	"github.com/civicsense/analysis-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id            TEXT PRIMARY KEY,
	text          TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	timeframe     TEXT NOT NULL DEFAULT '',
	canonical_key TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS provider_runs (
	id          TEXT PRIMARY KEY,
	claim_id    TEXT NOT NULL REFERENCES claims(id),
	provider    TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	rationale   TEXT,
	sources     TEXT,
	cost_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	raw_output  TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS consensus_verdicts (
	claim_id        TEXT PRIMARY KEY REFERENCES claims(id),
	method          TEXT NOT NULL,
	verdict         TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	balance_score   REAL NOT NULL DEFAULT 0,
	diversity_index REAL NOT NULL DEFAULT 0,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	job_id     TEXT,
	claim_id   TEXT,
	action     TEXT NOT NULL,
	detail     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS source_trust (
	domain     TEXT PRIMARY KEY,
	score      REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS response_cache (
	key        TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	provider   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	locale      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	claims      TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_eur    REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_claims_canonical_key ON claims(canonical_key);
CREATE INDEX IF NOT EXISTS idx_provider_runs_claim_id ON provider_runs(claim_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_job_id ON audit_log(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_claim_id ON audit_log(claim_id);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertClaim(ctx context.Context, text, scope, timeframe string) (*model.Claim, bool, error) {
	key := model.CanonicalClaimKey(text, scope, timeframe)

	existing, err := s.getClaimByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	c := &model.Claim{
		ID:           uuid.New().String(),
		Text:         text,
		Scope:        scope,
		Timeframe:    timeframe,
		CanonicalKey: key,
		Status:       model.ClaimOpen,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO claims (id, text, scope, timeframe, canonical_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(canonical_key) DO NOTHING`,
		c.ID, c.Text, c.Scope, c.Timeframe, c.CanonicalKey, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert claim")
	}

	// A concurrent insert may have won the conflict; re-read to be sure.
	final, err := s.getClaimByKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if final == nil {
		return nil, false, eris.New("sqlite: claim vanished after upsert")
	}
	return final, final.ID == c.ID, nil
}

func (s *SQLiteStore) getClaimByKey(ctx context.Context, key string) (*model.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, scope, timeframe, canonical_key, status, created_at
		 FROM claims WHERE canonical_key = ?`, key)
	c, err := scanClaim(row)
	if err == errNotFound {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) GetClaim(ctx context.Context, claimID string) (*model.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, scope, timeframe, canonical_key, status, created_at
		 FROM claims WHERE id = ?`, claimID)
	c, err := scanClaim(row)
	if err == errNotFound {
		return nil, eris.Errorf("claim not found: %s", claimID)
	}
	return c, err
}

func (s *SQLiteStore) UpdateClaimStatus(ctx context.Context, claimID string, status model.ClaimStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status = ? WHERE id = ?`, string(status), claimID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update claim status %s", claimID)
	}
	return checkRowsAffected(res, "claim", claimID)
}

func (s *SQLiteStore) AppendProviderRun(ctx context.Context, run model.ProviderRun) (*model.ProviderRun, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	sourcesJSON, err := json.Marshal(run.Sources)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_runs
		 (id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ClaimID, run.Provider, string(run.Verdict), run.Confidence,
		run.Rationale, string(sourcesJSON), run.CostTokens, run.LatencyMs, run.RawOutput, run.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert provider run for claim %s", run.ClaimID)
	}
	return &run, nil
}

func (s *SQLiteStore) ListProviderRuns(ctx context.Context, claimID string) ([]model.ProviderRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_id, provider, verdict, confidence, rationale, sources, cost_tokens, latency_ms, raw_output, created_at
		 FROM provider_runs WHERE claim_id = ? ORDER BY created_at ASC, rowid ASC`, claimID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provider runs")
	}
	defer rows.Close()

	var runs []model.ProviderRun
	for rows.Next() {
		var r model.ProviderRun
		var rationale, sourcesJSON, rawOutput sql.NullString
		if err := rows.Scan(&r.ID, &r.ClaimID, &r.Provider, &r.Verdict, &r.Confidence,
			&rationale, &sourcesJSON, &r.CostTokens, &r.LatencyMs, &rawOutput, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider run")
		}
		r.Rationale = rationale.String
		r.RawOutput = rawOutput.String
		if sourcesJSON.Valid && sourcesJSON.String != "" && sourcesJSON.String != "null" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &r.Sources); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run sources")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list provider runs iterate")
}

func (s *SQLiteStore) SaveConsensusVerdict(ctx context.Context, v model.ConsensusVerdict) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consensus_verdicts (claim_id, method, verdict, confidence, balance_score, diversity_index, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(claim_id) DO UPDATE SET
			method = excluded.method,
			verdict = excluded.verdict,
			confidence = excluded.confidence,
			balance_score = excluded.balance_score,
			diversity_index = excluded.diversity_index,
			updated_at = excluded.updated_at`,
		v.ClaimID, string(v.Method), string(v.Verdict), v.Confidence, v.BalanceScore, v.DiversityIndex, v.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save consensus verdict for claim %s", v.ClaimID)
}

func (s *SQLiteStore) GetConsensusVerdict(ctx context.Context, claimID string) (*model.ConsensusVerdict, error) {
	var v model.ConsensusVerdict
	err := s.db.QueryRowContext(ctx,
		`SELECT claim_id, method, verdict, confidence, balance_score, diversity_index, updated_at
		 FROM consensus_verdicts WHERE claim_id = ?`, claimID,
	).Scan(&v.ClaimID, &v.Method, &v.Verdict, &v.Confidence, &v.BalanceScore, &v.DiversityIndex, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get consensus verdict")
	}
	return &v, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entries ...model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin audit tx")
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO audit_log (id, job_id, claim_id, action, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.JobID, e.ClaimID, e.Action, e.Detail, e.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert audit entry")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit audit tx")
}

func (s *SQLiteStore) GetSourceTrust(ctx context.Context, domain string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM source_trust WHERE domain = ?`, domain).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: get source trust")
	}
	return score, true, nil
}

func (s *SQLiteStore) SetSourceTrust(ctx context.Context, domain string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_trust (domain, score, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
		domain, score, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set source trust %s", domain)
}

func (s *SQLiteStore) ImportSourceTrust(ctx context.Context, scores map[string]float64) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin trust import tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for domain, score := range scores {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_trust (domain, score, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(domain) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`,
			domain, score, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import trust %s", domain)
		}
		n++
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit trust import tx")
}

func (s *SQLiteStore) GetCachedResponse(ctx context.Context, key string) (*cache.Entry, error) {
	var e cache.Entry
	err := s.db.QueryRowContext(ctx,
		`SELECT key, text, provider, created_at, expires_at FROM response_cache
		 WHERE key = ? AND expires_at > datetime('now')`, key,
	).Scan(&e.Key, &e.Text, &e.Provider, &e.CreatedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached response")
	}
	return &e, nil
}

func (s *SQLiteStore) SetCachedResponse(ctx context.Context, e cache.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO response_cache (key, text, provider, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			text = excluded.text,
			provider = excluded.provider,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Text, e.Provider, e.CreatedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: set cached response")
}

func (s *SQLiteStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE expires_at <= datetime('now')`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired responses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, content, locale string) (*model.FactcheckJob, error) {
	job := &model.FactcheckJob{
		ID:        uuid.New().String(),
		Content:   content,
		Locale:    locale,
		Status:    model.JobQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, content, locale, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Content, job.Locale, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, job *model.FactcheckJob) error {
	claimsJSON, err := json.Marshal(job.Claims)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job claims")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, claims = ?, tokens_used = ?, cost_eur = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), string(claimsJSON), job.TokensUsed, job.CostEUR, time.Now().UTC(), job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.FactcheckJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, locale, status, claims, tokens_used, cost_eur, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err == errNotFound {
		return nil, eris.Errorf("job not found: %s", jobID)
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.FactcheckJob, error) {
	query := `SELECT id, content, locale, status, claims, tokens_used, cost_eur, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.FactcheckJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

var errNotFound = eris.New("not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanClaim(row scannable) (*model.Claim, error) {
	var c model.Claim
	err := row.Scan(&c.ID, &c.Text, &c.Scope, &c.Timeframe, &c.CanonicalKey, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan claim")
	}
	return &c, nil
}

func scanJob(row scannable) (*model.FactcheckJob, error) {
	var j model.FactcheckJob
	var claimsJSON sql.NullString

	err := row.Scan(&j.ID, &j.Content, &j.Locale, &j.Status, &claimsJSON, &j.TokensUsed, &j.CostEUR, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if claimsJSON.Valid && claimsJSON.String != "" && claimsJSON.String != "null" {
		if err := json.Unmarshal([]byte(claimsJSON.String), &j.Claims); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job claims")
		}
	}
	return &j, nil
}
