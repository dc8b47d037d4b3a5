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

	"github.com/sells-group/modelgen/internal/db"
	"github.com/sells-group/modelgen/internal/model"
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
	"insert_job":         `INSERT INTO jobs (id, input_text, source_uri, archetype_override, status, retry_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_job":            `SELECT id, input_text, source_uri, archetype_override, status, retry_count, last_error, error_class, classification, extraction_id, model_id, token_usage, created_at, updated_at FROM jobs WHERE id = $1`,
	"transition_job":     `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
	"insert_extraction":  `INSERT INTO extractions (id, source_uri, content_hash, agent_id, status, issues, initial_confidence, final_confidence, superseded, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) ON CONFLICT (content_hash) DO NOTHING RETURNING id`,
	"extraction_by_hash": `SELECT id, source_uri, content_hash, agent_id, status, issues, initial_confidence, final_confidence, superseded, created_at, updated_at FROM extractions WHERE content_hash = $1`,
	"link_model":         `INSERT INTO model_links (extraction_id, model_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (extraction_id, model_id) DO NOTHING`,
	"link_dashboard":     `INSERT INTO dashboard_links (model_id, dashboard_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (model_id, dashboard_id) DO NOTHING`,
	"insert_model":       `INSERT INTO models (id, archetype, version, needs_review, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_model":          `SELECT needs_review, payload FROM models WHERE id = $1`,
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

// Pool returns the underlying database pool for subsystems needing direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	input_text         TEXT NOT NULL,
	source_uri         TEXT NOT NULL DEFAULT '',
	archetype_override TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	error_class        TEXT NOT NULL DEFAULT '',
	classification     JSONB,
	extraction_id      TEXT NOT NULL DEFAULT '',
	model_id           TEXT NOT NULL DEFAULT '',
	token_usage        JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS extractions (
	id                 TEXT PRIMARY KEY,
	source_uri         TEXT NOT NULL,
	content_hash       TEXT NOT NULL UNIQUE,
	agent_id           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'unverified',
	issues             JSONB,
	initial_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	final_confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	superseded         BOOLEAN NOT NULL DEFAULT false,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extractions_source_uri ON extractions(source_uri);

CREATE TABLE IF NOT EXISTS models (
	id           TEXT PRIMARY KEY,
	archetype    TEXT NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1,
	needs_review BOOLEAN NOT NULL DEFAULT false,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_models_archetype ON models(archetype);

CREATE TABLE IF NOT EXISTS model_links (
	extraction_id TEXT NOT NULL REFERENCES extractions(id),
	model_id      TEXT NOT NULL REFERENCES models(id),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (extraction_id, model_id)
);

CREATE INDEX IF NOT EXISTS idx_model_links_model_id ON model_links(model_id);

CREATE TABLE IF NOT EXISTS dashboard_links (
	model_id     TEXT NOT NULL REFERENCES models(id),
	dashboard_id TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (model_id, dashboard_id)
);

CREATE INDEX IF NOT EXISTS idx_dashboard_links_model_id ON dashboard_links(model_id);
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

// Jobs

func (s *PostgresStore) CreateJob(ctx context.Context, seed model.Job) (*model.Job, error) {
	job := seed
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	job.RetryCount = 0
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, input_text, source_uri, archetype_override, status, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.InputText, job.SourceURI, job.ArchetypeOverride, string(job.Status), job.RetryCount, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &job, nil
}

const jobColumns = `id, input_text, source_uri, archetype_override, status, retry_count, last_error, error_class, classification, extraction_id, model_id, token_usage, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var classificationJSON, usageJSON *[]byte

	err := row.Scan(&j.ID, &j.InputText, &j.SourceURI, &j.ArchetypeOverride, &j.Status,
		&j.RetryCount, &j.LastError, &j.ErrorClass, &classificationJSON,
		&j.ExtractionID, &j.ModelID, &usageJSON, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if classificationJSON != nil {
		j.Classification = &model.Classification{}
		if err := json.Unmarshal(*classificationJSON, j.Classification); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal classification")
		}
	}
	if usageJSON != nil {
		if err := json.Unmarshal(*usageJSON, &j.Usage); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal token usage")
		}
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}

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
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// casFallthrough resolves a zero-row CAS update into ErrNotFound or ErrStale.
func (s *PostgresStore) casFallthrough(ctx context.Context, jobID string, from model.JobStatus) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
		}
		return eris.Wrapf(err, "postgres: job %s status", jobID)
	}
	return eris.Wrapf(ErrStale, "postgres: job %s is %s, expected %s", jobID, current, from)
}

func (s *PostgresStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.casFallthrough(ctx, jobID, from)
	}
	return nil
}

func (s *PostgresStore) SetJobClassification(ctx context.Context, jobID string, c *model.Classification) error {
	classificationJSON, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal classification")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET classification = $1, updated_at = $2 WHERE id = $3`,
		classificationJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job classification %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) SetJobArtifacts(ctx context.Context, jobID, extractionID, modelID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET extraction_id = $1, model_id = $2, updated_at = $3 WHERE id = $4`,
		extractionID, modelID, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job artifacts %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, retryCount int, usage model.TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal token usage")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, retry_count = $2, token_usage = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(model.JobStatusCompleted), retryCount, usageJSON, time.Now().UTC(),
		jobID, string(model.JobStatusGenerating),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.casFallthrough(ctx, jobID, model.JobStatusGenerating)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, from model.JobStatus, rec FailureRecord) error {
	usageJSON, err := json.Marshal(rec.Usage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal token usage")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, error_class = $3, retry_count = $4, token_usage = $5, updated_at = $6
		 WHERE id = $7 AND status = $8`,
		string(model.JobStatusFailed), rec.LastError, rec.ErrorClass, rec.RetryCount, usageJSON,
		time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return s.casFallthrough(ctx, jobID, from)
	}
	return nil
}

func (s *PostgresStore) StaleJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at ASC`,
		string(model.JobStatusClassifying), string(model.JobStatusGenerating), cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: stale jobs iterate")
}

// Generated models

func (s *PostgresStore) CreateModel(ctx context.Context, seed model.ValueModel) (*model.ValueModel, error) {
	m := seed
	m.ID = uuid.New().String()
	if m.Version <= 0 {
		m.Version = 1
	}
	m.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal model")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO models (id, archetype, version, needs_review, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Archetype, m.Version, m.NeedsReview, payload, m.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert model")
	}
	return &m, nil
}

func (s *PostgresStore) GetModel(ctx context.Context, modelID string) (*model.ValueModel, error) {
	var needsReview bool
	var payload []byte

	err := s.pool.QueryRow(ctx,
		`SELECT needs_review, payload FROM models WHERE id = $1`,
		modelID,
	).Scan(&needsReview, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: model %s", modelID)
		}
		return nil, eris.Wrapf(err, "postgres: get model %s", modelID)
	}

	var m model.ValueModel
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal model")
	}
	m.NeedsReview = needsReview
	return &m, nil
}

// Extractions and lineage

const extractionColumns = `id, source_uri, content_hash, agent_id, status, issues, initial_confidence, final_confidence, superseded, created_at, updated_at`

func scanExtraction(row rowScanner) (*model.Extraction, error) {
	var e model.Extraction
	var issuesJSON *[]byte

	err := row.Scan(&e.ID, &e.SourceURI, &e.ContentHash, &e.AgentID, &e.Status,
		&issuesJSON, &e.InitialConfidence, &e.FinalConfidence, &e.Superseded,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if issuesJSON != nil {
		if err := json.Unmarshal(*issuesJSON, &e.Issues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal issues")
		}
	}
	return &e, nil
}

func (s *PostgresStore) RecordExtraction(ctx context.Context, seed model.Extraction) (*model.Extraction, bool, error) {
	e := seed
	e.ID = uuid.New().String()
	if e.Status == "" {
		e.Status = model.VerificationUnverified
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	issuesJSON, err := marshalIssues(e.Issues)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal issues")
	}

	var insertedID string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO extractions (id, source_uri, content_hash, agent_id, status, issues, initial_confidence, final_confidence, superseded, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (content_hash) DO NOTHING
		 RETURNING id`,
		e.ID, e.SourceURI, e.ContentHash, e.AgentID, string(e.Status), issuesJSON,
		e.InitialConfidence, e.FinalConfidence, e.Superseded, now, now,
	).Scan(&insertedID)
	if err == nil {
		return &e, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrap(err, "postgres: record extraction")
	}

	// Conflict path: the hash is already recorded, return the existing row.
	row := s.pool.QueryRow(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE content_hash = $1`,
		e.ContentHash,
	)
	existing, err := scanExtraction(row)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: load deduped extraction")
	}
	return existing, true, nil
}

func (s *PostgresStore) GetExtraction(ctx context.Context, extractionID string) (*model.Extraction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE id = $1`,
		extractionID,
	)
	e, err := scanExtraction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: extraction %s", extractionID)
		}
		return nil, eris.Wrapf(err, "postgres: get extraction %s", extractionID)
	}
	return e, nil
}

func (s *PostgresStore) ExtractionsByHash(ctx context.Context, contentHash string) ([]model.Extraction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE content_hash = $1 ORDER BY created_at ASC`,
		contentHash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: extractions by hash")
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: extractions by hash iterate")
}

func (s *PostgresStore) LinkModel(ctx context.Context, extractionID, modelID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_links (extraction_id, model_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (extraction_id, model_id) DO NOTHING`,
		extractionID, modelID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: link extraction %s to model %s", extractionID, modelID)
}

func (s *PostgresStore) LinkDashboard(ctx context.Context, modelID, dashboardID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dashboard_links (model_id, dashboard_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (model_id, dashboard_id) DO NOTHING`,
		modelID, dashboardID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: link model %s to dashboard %s", modelID, dashboardID)
}

func (s *PostgresStore) ExtractionLineage(ctx context.Context, extractionID string) (*model.ExtractionLineage, error) {
	e, err := s.GetExtraction(ctx, extractionID)
	if err != nil {
		return nil, err
	}

	lin := &model.ExtractionLineage{Extraction: *e}

	rows, err := s.pool.Query(ctx,
		`SELECT model_id FROM model_links WHERE extraction_id = $1 ORDER BY model_id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lineage models")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan model link")
		}
		lin.Links.UsedInModels = append(lin.Links.UsedInModels, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: lineage models iterate")
	}

	// Downstream consumers reach an extraction through the models it fed.
	dashRows, err := s.pool.Query(ctx,
		`SELECT DISTINCT dl.dashboard_id
		 FROM dashboard_links dl
		 JOIN model_links ml ON ml.model_id = dl.model_id
		 WHERE ml.extraction_id = $1
		 ORDER BY dl.dashboard_id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lineage dashboards")
	}
	defer dashRows.Close()
	for dashRows.Next() {
		var id string
		if err := dashRows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dashboard link")
		}
		lin.Links.UsedInDashboards = append(lin.Links.UsedInDashboards, id)
	}
	return lin, eris.Wrap(dashRows.Err(), "postgres: lineage dashboards iterate")
}

func (s *PostgresStore) ImpactAnalysis(ctx context.Context, contentHash string) ([]model.ImpactRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, ml.model_id, COALESCE(dl.dashboard_id, '')
		 FROM extractions e
		 JOIN model_links ml ON ml.extraction_id = e.id
		 LEFT JOIN dashboard_links dl ON dl.model_id = ml.model_id
		 WHERE e.content_hash = $1
		 ORDER BY e.id, ml.model_id, dl.dashboard_id`,
		contentHash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: impact analysis")
	}
	defer rows.Close()

	out := []model.ImpactRow{}
	for rows.Next() {
		var r model.ImpactRow
		if err := rows.Scan(&r.ExtractionID, &r.ModelID, &r.DashboardID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan impact row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: impact analysis iterate")
}

func (s *PostgresStore) FlagExtraction(ctx context.Context, extractionID string, issues []string) error {
	issuesJSON, err := marshalIssues(issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal issues")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: flag extraction begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE extractions SET status = $1, issues = $2, updated_at = $3 WHERE id = $4`,
		string(model.VerificationFlagged), issuesJSON, time.Now().UTC(), extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: flag extraction %s", extractionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: extraction %s", extractionID)
	}

	// Every model built from a flagged source needs human review.
	_, err = tx.Exec(ctx,
		`UPDATE models SET needs_review = true
		 WHERE id IN (SELECT model_id FROM model_links WHERE extraction_id = $1)`,
		extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cascade review flag %s", extractionID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: flag extraction commit")
}

func (s *PostgresStore) VerifyExtraction(ctx context.Context, extractionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: verify extraction begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE extractions SET status = $1, issues = NULL, updated_at = $2 WHERE id = $3`,
		string(model.VerificationVerified), time.Now().UTC(), extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: verify extraction %s", extractionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: extraction %s", extractionID)
	}

	// Clear the review marker only on models whose sources are all clean.
	_, err = tx.Exec(ctx,
		`UPDATE models SET needs_review = false
		 WHERE id IN (SELECT model_id FROM model_links WHERE extraction_id = $1)
		 AND NOT EXISTS (
		   SELECT 1 FROM model_links ml2
		   JOIN extractions e2 ON e2.id = ml2.extraction_id
		   WHERE ml2.model_id = models.id AND e2.status = $2
		 )`,
		extractionID, string(model.VerificationFlagged),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear review flag %s", extractionID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: verify extraction commit")
}

func marshalIssues(issues []string) ([]byte, error) {
	if len(issues) == 0 {
		return nil, nil
	}
	return json.Marshal(issues)
}
