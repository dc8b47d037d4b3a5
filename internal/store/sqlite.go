package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/modelgen/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. The connection pool is capped at one so writers serialize, which
// is what the same-row locking contract requires from this backend.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
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
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	input_text         TEXT NOT NULL,
	source_uri         TEXT NOT NULL DEFAULT '',
	archetype_override TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	retry_count        INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	error_class        TEXT NOT NULL DEFAULT '',
	classification     TEXT,
	extraction_id      TEXT NOT NULL DEFAULT '',
	model_id           TEXT NOT NULL DEFAULT '',
	token_usage        TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at);

CREATE TABLE IF NOT EXISTS extractions (
	id                 TEXT PRIMARY KEY,
	source_uri         TEXT NOT NULL,
	content_hash       TEXT NOT NULL UNIQUE,
	agent_id           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'unverified',
	issues             TEXT,
	initial_confidence REAL NOT NULL DEFAULT 0,
	final_confidence   REAL NOT NULL DEFAULT 0,
	superseded         INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_extractions_source_uri ON extractions(source_uri);

CREATE TABLE IF NOT EXISTS models (
	id           TEXT PRIMARY KEY,
	archetype    TEXT NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1,
	needs_review INTEGER NOT NULL DEFAULT 0,
	payload      TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_models_archetype ON models(archetype);

CREATE TABLE IF NOT EXISTS model_links (
	extraction_id TEXT NOT NULL REFERENCES extractions(id),
	model_id      TEXT NOT NULL REFERENCES models(id),
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (extraction_id, model_id)
);

CREATE INDEX IF NOT EXISTS idx_model_links_model_id ON model_links(model_id);

CREATE TABLE IF NOT EXISTS dashboard_links (
	model_id     TEXT NOT NULL REFERENCES models(id),
	dashboard_id TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (model_id, dashboard_id)
);

CREATE INDEX IF NOT EXISTS idx_dashboard_links_model_id ON dashboard_links(model_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, seed model.Job) (*model.Job, error) {
	job := seed
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	job.RetryCount = 0
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, input_text, source_uri, archetype_override, status, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.InputText, job.SourceURI, job.ArchetypeOverride, string(job.Status), job.RetryCount, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &job, nil
}

func scanJobSQLite(row rowScanner) (*model.Job, error) {
	var j model.Job
	var classificationJSON, usageJSON sql.NullString

	err := row.Scan(&j.ID, &j.InputText, &j.SourceURI, &j.ArchetypeOverride, &j.Status,
		&j.RetryCount, &j.LastError, &j.ErrorClass, &classificationJSON,
		&j.ExtractionID, &j.ModelID, &usageJSON, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if classificationJSON.Valid {
		j.Classification = &model.Classification{}
		if err := json.Unmarshal([]byte(classificationJSON.String), j.Classification); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal classification")
		}
	}
	if usageJSON.Valid {
		if err := json.Unmarshal([]byte(usageJSON.String), &j.Usage); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal token usage")
		}
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJobSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
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

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) casFallthrough(ctx context.Context, jobID string, from model.JobStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
		}
		return eris.Wrapf(err, "sqlite: job %s status", jobID)
	}
	return eris.Wrapf(ErrStale, "sqlite: job %s is %s, expected %s", jobID, current, from)
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.casFallthrough(ctx, jobID, from)
	}
	return nil
}

func (s *SQLiteStore) SetJobClassification(ctx context.Context, jobID string, c *model.Classification) error {
	classificationJSON, err := json.Marshal(c)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal classification")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET classification = ?, updated_at = ? WHERE id = ?`,
		string(classificationJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job classification %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) SetJobArtifacts(ctx context.Context, jobID, extractionID, modelID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET extraction_id = ?, model_id = ?, updated_at = ? WHERE id = ?`,
		extractionID, modelID, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job artifacts %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, retryCount int, usage model.TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal token usage")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, retry_count = ?, token_usage = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.JobStatusCompleted), retryCount, string(usageJSON), time.Now().UTC(),
		jobID, string(model.JobStatusGenerating),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.casFallthrough(ctx, jobID, model.JobStatusGenerating)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, from model.JobStatus, rec FailureRecord) error {
	usageJSON, err := json.Marshal(rec.Usage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal token usage")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, error_class = ?, retry_count = ?, token_usage = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.JobStatusFailed), rec.LastError, rec.ErrorClass, rec.RetryCount, string(usageJSON),
		time.Now().UTC(), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.casFallthrough(ctx, jobID, from)
	}
	return nil
}

func (s *SQLiteStore) StaleJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (?, ?) AND updated_at < ?
		 ORDER BY updated_at ASC`,
		string(model.JobStatusClassifying), string(model.JobStatusGenerating), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: stale jobs iterate")
}

// Generated models

func (s *SQLiteStore) CreateModel(ctx context.Context, seed model.ValueModel) (*model.ValueModel, error) {
	m := seed
	m.ID = uuid.New().String()
	if m.Version <= 0 {
		m.Version = 1
	}
	m.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal model")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (id, archetype, version, needs_review, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Archetype, m.Version, m.NeedsReview, string(payload), m.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert model")
	}
	return &m, nil
}

func (s *SQLiteStore) GetModel(ctx context.Context, modelID string) (*model.ValueModel, error) {
	var needsReview bool
	var payload string

	err := s.db.QueryRowContext(ctx,
		`SELECT needs_review, payload FROM models WHERE id = ?`,
		modelID,
	).Scan(&needsReview, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: model %s", modelID)
		}
		return nil, eris.Wrapf(err, "sqlite: get model %s", modelID)
	}

	var m model.ValueModel
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal model")
	}
	m.NeedsReview = needsReview
	return &m, nil
}

// Extractions and lineage

func scanExtractionSQLite(row rowScanner) (*model.Extraction, error) {
	var e model.Extraction
	var issuesJSON sql.NullString

	err := row.Scan(&e.ID, &e.SourceURI, &e.ContentHash, &e.AgentID, &e.Status,
		&issuesJSON, &e.InitialConfidence, &e.FinalConfidence, &e.Superseded,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if issuesJSON.Valid {
		if err := json.Unmarshal([]byte(issuesJSON.String), &e.Issues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal issues")
		}
	}
	return &e, nil
}

func (s *SQLiteStore) RecordExtraction(ctx context.Context, seed model.Extraction) (*model.Extraction, bool, error) {
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
		return nil, false, eris.Wrap(err, "sqlite: marshal issues")
	}
	var issuesArg any
	if issuesJSON != nil {
		issuesArg = string(issuesJSON)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extractions (id, source_uri, content_hash, agent_id, status, issues, initial_confidence, final_confidence, superseded, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`,
		e.ID, e.SourceURI, e.ContentHash, e.AgentID, string(e.Status), issuesArg,
		e.InitialConfidence, e.FinalConfidence, e.Superseded, now, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: record extraction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return &e, false, nil
	}

	// Conflict path: the hash is already recorded, return the existing row.
	row := s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE content_hash = ?`,
		e.ContentHash,
	)
	existing, err := scanExtractionSQLite(row)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: load deduped extraction")
	}
	return existing, true, nil
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, extractionID string) (*model.Extraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE id = ?`,
		extractionID,
	)
	e, err := scanExtractionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: extraction %s", extractionID)
		}
		return nil, eris.Wrapf(err, "sqlite: get extraction %s", extractionID)
	}
	return e, nil
}

func (s *SQLiteStore) ExtractionsByHash(ctx context.Context, contentHash string) ([]model.Extraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE content_hash = ? ORDER BY created_at ASC`,
		contentHash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: extractions by hash")
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		e, err := scanExtractionSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: extractions by hash iterate")
}

func (s *SQLiteStore) LinkModel(ctx context.Context, extractionID, modelID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_links (extraction_id, model_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (extraction_id, model_id) DO NOTHING`,
		extractionID, modelID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: link extraction %s to model %s", extractionID, modelID)
}

func (s *SQLiteStore) LinkDashboard(ctx context.Context, modelID, dashboardID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dashboard_links (model_id, dashboard_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (model_id, dashboard_id) DO NOTHING`,
		modelID, dashboardID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: link model %s to dashboard %s", modelID, dashboardID)
}

func (s *SQLiteStore) ExtractionLineage(ctx context.Context, extractionID string) (*model.ExtractionLineage, error) {
	e, err := s.GetExtraction(ctx, extractionID)
	if err != nil {
		return nil, err
	}

	lin := &model.ExtractionLineage{Extraction: *e}

	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id FROM model_links WHERE extraction_id = ? ORDER BY model_id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lineage models")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan model link")
		}
		lin.Links.UsedInModels = append(lin.Links.UsedInModels, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: lineage models iterate")
	}

	dashRows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT dl.dashboard_id
		 FROM dashboard_links dl
		 JOIN model_links ml ON ml.model_id = dl.model_id
		 WHERE ml.extraction_id = ?
		 ORDER BY dl.dashboard_id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lineage dashboards")
	}
	defer dashRows.Close()
	for dashRows.Next() {
		var id string
		if err := dashRows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dashboard link")
		}
		lin.Links.UsedInDashboards = append(lin.Links.UsedInDashboards, id)
	}
	return lin, eris.Wrap(dashRows.Err(), "sqlite: lineage dashboards iterate")
}

func (s *SQLiteStore) ImpactAnalysis(ctx context.Context, contentHash string) ([]model.ImpactRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.id, ml.model_id, COALESCE(dl.dashboard_id, '')
		 FROM extractions e
		 JOIN model_links ml ON ml.extraction_id = e.id
		 LEFT JOIN dashboard_links dl ON dl.model_id = ml.model_id
		 WHERE e.content_hash = ?
		 ORDER BY e.id, ml.model_id, dl.dashboard_id`,
		contentHash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: impact analysis")
	}
	defer rows.Close()

	out := []model.ImpactRow{}
	for rows.Next() {
		var r model.ImpactRow
		if err := rows.Scan(&r.ExtractionID, &r.ModelID, &r.DashboardID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan impact row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: impact analysis iterate")
}

func (s *SQLiteStore) FlagExtraction(ctx context.Context, extractionID string, issues []string) error {
	issuesJSON, err := marshalIssues(issues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal issues")
	}
	var issuesArg any
	if issuesJSON != nil {
		issuesArg = string(issuesJSON)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: flag extraction begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE extractions SET status = ?, issues = ?, updated_at = ? WHERE id = ?`,
		string(model.VerificationFlagged), issuesArg, time.Now().UTC(), extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: flag extraction %s", extractionID)
	}
	if err := checkRowsAffected(res, "extraction", extractionID); err != nil {
		return err
	}

	// Every model built from a flagged source needs human review.
	_, err = tx.ExecContext(ctx,
		`UPDATE models SET needs_review = 1
		 WHERE id IN (SELECT model_id FROM model_links WHERE extraction_id = ?)`,
		extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cascade review flag %s", extractionID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: flag extraction commit")
}

func (s *SQLiteStore) VerifyExtraction(ctx context.Context, extractionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: verify extraction begin")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE extractions SET status = ?, issues = NULL, updated_at = ? WHERE id = ?`,
		string(model.VerificationVerified), time.Now().UTC(), extractionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: verify extraction %s", extractionID)
	}
	if err := checkRowsAffected(res, "extraction", extractionID); err != nil {
		return err
	}

	// Clear the review marker only on models whose sources are all clean.
	_, err = tx.ExecContext(ctx,
		`UPDATE models SET needs_review = 0
		 WHERE id IN (SELECT model_id FROM model_links WHERE extraction_id = ?)
		 AND NOT EXISTS (
		   SELECT 1 FROM model_links ml2
		   JOIN extractions e2 ON e2.id = ml2.extraction_id
		   WHERE ml2.model_id = models.id AND e2.status = ?
		 )`,
		extractionID, string(model.VerificationFlagged),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear review flag %s", extractionID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: verify extraction commit")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
