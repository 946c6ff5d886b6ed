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

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
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
CREATE TABLE IF NOT EXISTS analysis_requests (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analysis_outcomes (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL REFERENCES analysis_requests(id),
	domain     TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL,
	supersedes TEXT,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	lineage_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS confidence_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id  TEXT NOT NULL,
	confidence  REAL NOT NULL,
	reason      TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS eval_reports (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	mean       REAL NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS domain_insights (
	domain     TEXT PRIMARY KEY,
	runs       INTEGER NOT NULL,
	items      INTEGER NOT NULL,
	mean_score REAL NOT NULL,
	pass_rate  REAL NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_request_id ON analysis_outcomes(request_id);
CREATE INDEX IF NOT EXISTS idx_sessions_lineage_id ON sessions(lineage_id);
CREATE INDEX IF NOT EXISTS idx_confidence_subject ON confidence_records(subject_id, seq);
CREATE INDEX IF NOT EXISTS idx_eval_reports_created_at ON eval_reports(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, req model.AnalysisRequest, outcome *model.AnalysisOutcome) (string, error) {
	if outcome == nil {
		return "", apperr.Validation("store: nil outcome")
	}
	o := *outcome
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RequestID == "" {
		o.RequestID = req.ID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal request")
	}
	outJSON, err := json.Marshal(o)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal outcome")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin save outcome")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analysis_requests (id, payload, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		req.ID, string(reqJSON), req.CreatedAt.UTC(),
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: insert request %s", req.ID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analysis_outcomes (id, request_id, domain, confidence, supersedes, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RequestID, o.Domain, o.Confidence, nullString(o.Supersedes), string(outJSON), o.CreatedAt.UTC(),
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: insert outcome %s", o.ID)
	}
	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit save outcome")
	}
	return o.ID, nil
}

func (s *SQLiteStore) GetOutcome(ctx context.Context, id string) (*model.AnalysisOutcome, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM analysis_outcomes WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("outcome %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get outcome %s", id)
	}
	var o model.AnalysisOutcome
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
	}
	return &o, nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM analysis_requests WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("request %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	var r model.AnalysisRequest
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal request")
	}
	return &r, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.InteractiveSession) error {
	if sess == nil || sess.ID == "" {
		return apperr.Validation("store: session id is required")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, lineage_id, status, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, payload = excluded.payload, updated_at = excluded.updated_at`,
		sess.ID, sess.LineageID, string(sess.Status), string(payload), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save session %s", sess.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.InteractiveSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	var sess model.InteractiveSession
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &sess, nil
}

func (s *SQLiteStore) AppendConfidence(ctx context.Context, id string, rec model.ConfidenceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO confidence_records (subject_id, confidence, reason, recorded_at) VALUES (?, ?, ?, ?)`,
		id, rec.Confidence, rec.Reason, rec.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append confidence %s", id)
}

func (s *SQLiteStore) ListConfidence(ctx context.Context, id string) ([]model.ConfidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT confidence, reason, recorded_at FROM confidence_records WHERE subject_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list confidence %s", id)
	}
	defer rows.Close()

	var out []model.ConfidenceRecord
	for rows.Next() {
		var rec model.ConfidenceRecord
		if err := rows.Scan(&rec.Confidence, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan confidence")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list confidence iterate")
}

func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.EvaluationReport) error {
	if r == nil {
		return apperr.Validation("store: nil report")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	created := r.CompletedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO eval_reports (id, mode, mean, payload, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, mean = excluded.mean`,
		r.ID, string(r.Mode), r.Mean, string(payload), created.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save report %s", r.ID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.EvaluationReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM eval_reports WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("report %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", id)
	}
	var r model.EvaluationReport
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]model.EvaluationReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM eval_reports ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []model.EvaluationReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		var r model.EvaluationReport
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) UpsertInsight(ctx context.Context, in model.DomainInsight) error {
	if in.Domain == "" {
		return apperr.Validation("store: insight domain is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_insights (domain, runs, items, mean_score, pass_rate, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET runs = excluded.runs, items = excluded.items,
		   mean_score = excluded.mean_score, pass_rate = excluded.pass_rate, updated_at = excluded.updated_at`,
		in.Domain, in.Runs, in.Items, in.MeanScore, in.PassRate, in.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert insight %s", in.Domain)
}

func (s *SQLiteStore) GetInsight(ctx context.Context, domain string) (*model.DomainInsight, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT domain, runs, items, mean_score, pass_rate, updated_at FROM domain_insights WHERE domain = ?`, domain)
	in, err := scanInsight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get insight %s", domain)
	}
	return in, nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context) ([]model.DomainInsight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, runs, items, mean_score, pass_rate, updated_at FROM domain_insights ORDER BY domain`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close()

	var out []model.DomainInsight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		out = append(out, *in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list insights iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInsight(row scannable) (*model.DomainInsight, error) {
	var in model.DomainInsight
	if err := row.Scan(&in.Domain, &in.Runs, &in.Items, &in.MeanScore, &in.PassRate, &in.UpdatedAt); err != nil {
		return nil, err
	}
	return &in, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
