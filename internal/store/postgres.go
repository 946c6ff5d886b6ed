package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_outcome":     `SELECT payload FROM analysis_outcomes WHERE id = $1`,
	"get_request":     `SELECT payload FROM analysis_requests WHERE id = $1`,
	"get_session":     `SELECT payload FROM sessions WHERE id = $1`,
	"list_confidence": `SELECT confidence, reason, recorded_at FROM confidence_records WHERE subject_id = $1 ORDER BY seq`,
	"get_insight":     `SELECT domain, runs, items, mean_score, pass_rate, updated_at FROM domain_insights WHERE domain = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_requests (
	id         TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_outcomes (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL REFERENCES analysis_requests(id),
	domain     TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL,
	supersedes TEXT,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	lineage_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS confidence_records (
	seq         BIGSERIAL PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	reason      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS eval_reports (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	mean       DOUBLE PRECISION NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS domain_insights (
	domain     TEXT PRIMARY KEY,
	runs       INTEGER NOT NULL,
	items      INTEGER NOT NULL,
	mean_score DOUBLE PRECISION NOT NULL,
	pass_rate  DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_request_id ON analysis_outcomes(request_id);
CREATE INDEX IF NOT EXISTS idx_sessions_lineage_id ON sessions(lineage_id);
CREATE INDEX IF NOT EXISTS idx_confidence_subject ON confidence_records(subject_id, seq);
CREATE INDEX IF NOT EXISTS idx_eval_reports_created_at ON eval_reports(created_at DESC);
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

func (s *PostgresStore) SaveOutcome(ctx context.Context, req model.AnalysisRequest, outcome *model.AnalysisOutcome) (string, error) {
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
		return "", eris.Wrap(err, "postgres: marshal request")
	}
	outJSON, err := json.Marshal(o)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal outcome")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin save outcome")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO analysis_requests (id, payload, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		req.ID, reqJSON, req.CreatedAt.UTC(),
	); err != nil {
		return "", eris.Wrapf(err, "postgres: insert request %s", req.ID)
	}
	var supersedes *string
	if o.Supersedes != "" {
		supersedes = &o.Supersedes
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO analysis_outcomes (id, request_id, domain, confidence, supersedes, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.RequestID, o.Domain, o.Confidence, supersedes, outJSON, o.CreatedAt.UTC(),
	); err != nil {
		return "", eris.Wrapf(err, "postgres: insert outcome %s", o.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit save outcome")
	}
	return o.ID, nil
}

func (s *PostgresStore) GetOutcome(ctx context.Context, id string) (*model.AnalysisOutcome, error) {
	var o model.AnalysisOutcome
	if err := s.getJSON(ctx, `SELECT payload FROM analysis_outcomes WHERE id = $1`, id, "outcome", &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error) {
	var r model.AnalysisRequest
	if err := s.getJSON(ctx, `SELECT payload FROM analysis_requests WHERE id = $1`, id, "request", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.InteractiveSession) error {
	if sess == nil || sess.ID == "" {
		return apperr.Validation("store: session id is required")
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, lineage_id, status, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.LineageID, string(sess.Status), payload, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save session %s", sess.ID)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.InteractiveSession, error) {
	var sess model.InteractiveSession
	if err := s.getJSON(ctx, `SELECT payload FROM sessions WHERE id = $1`, id, "session", &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) AppendConfidence(ctx context.Context, id string, rec model.ConfidenceRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO confidence_records (subject_id, confidence, reason, recorded_at) VALUES ($1, $2, $3, $4)`,
		id, rec.Confidence, rec.Reason, rec.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: append confidence %s", id)
}

func (s *PostgresStore) ListConfidence(ctx context.Context, id string) ([]model.ConfidenceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT confidence, reason, recorded_at FROM confidence_records WHERE subject_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list confidence %s", id)
	}
	defer rows.Close()

	var out []model.ConfidenceRecord
	for rows.Next() {
		var rec model.ConfidenceRecord
		if err := rows.Scan(&rec.Confidence, &rec.Reason, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan confidence")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list confidence iterate")
}

func (s *PostgresStore) SaveReport(ctx context.Context, r *model.EvaluationReport) error {
	if r == nil {
		return apperr.Validation("store: nil report")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	created := r.CompletedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO eval_reports (id, mode, mean, payload, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, mean = EXCLUDED.mean`,
		r.ID, string(r.Mode), r.Mean, payload, created.UTC(),
	)
	return eris.Wrapf(err, "postgres: save report %s", r.ID)
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.EvaluationReport, error) {
	var r model.EvaluationReport
	if err := s.getJSON(ctx, `SELECT payload FROM eval_reports WHERE id = $1`, id, "report", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, limit int) ([]model.EvaluationReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `SELECT payload FROM eval_reports ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var out []model.EvaluationReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		var r model.EvaluationReport
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) UpsertInsight(ctx context.Context, in model.DomainInsight) error {
	if in.Domain == "" {
		return apperr.Validation("store: insight domain is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO domain_insights (domain, runs, items, mean_score, pass_rate, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (domain) DO UPDATE SET runs = EXCLUDED.runs, items = EXCLUDED.items,
		   mean_score = EXCLUDED.mean_score, pass_rate = EXCLUDED.pass_rate, updated_at = EXCLUDED.updated_at`,
		in.Domain, in.Runs, in.Items, in.MeanScore, in.PassRate, in.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert insight %s", in.Domain)
}

func (s *PostgresStore) GetInsight(ctx context.Context, domain string) (*model.DomainInsight, error) {
	var in model.DomainInsight
	err := s.pool.QueryRow(ctx,
		`SELECT domain, runs, items, mean_score, pass_rate, updated_at FROM domain_insights WHERE domain = $1`, domain,
	).Scan(&in.Domain, &in.Runs, &in.Items, &in.MeanScore, &in.PassRate, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get insight %s", domain)
	}
	return &in, nil
}

func (s *PostgresStore) ListInsights(ctx context.Context) ([]model.DomainInsight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT domain, runs, items, mean_score, pass_rate, updated_at FROM domain_insights ORDER BY domain`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var out []model.DomainInsight
	for rows.Next() {
		var in model.DomainInsight
		if err := rows.Scan(&in.Domain, &in.Runs, &in.Items, &in.MeanScore, &in.PassRate, &in.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list insights iterate")
}

// getJSON loads a single JSONB payload column into dest.
func (s *PostgresStore) getJSON(ctx context.Context, query, id, entity string, dest any) error {
	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: get %s %s", entity, id)
	}
	return eris.Wrapf(json.Unmarshal(payload, dest), "postgres: unmarshal %s", entity)
}
