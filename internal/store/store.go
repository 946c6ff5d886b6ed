package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
)

// AnalysisStore persists completed analysis runs. Outcomes are written once
// and never updated; re-runs save a new outcome that supersedes the old one.
type AnalysisStore interface {
	SaveOutcome(ctx context.Context, req model.AnalysisRequest, outcome *model.AnalysisOutcome) (string, error)
	GetOutcome(ctx context.Context, id string) (*model.AnalysisOutcome, error)
	GetRequest(ctx context.Context, id string) (*model.AnalysisRequest, error)
}

// SessionStore persists interactive session snapshots.
type SessionStore interface {
	SaveSession(ctx context.Context, s *model.InteractiveSession) error
	GetSession(ctx context.Context, id string) (*model.InteractiveSession, error)
}

// ConfidenceLedger is an append-only log of confidence records keyed by
// analysis or lineage id. Records come back in append order.
type ConfidenceLedger interface {
	AppendConfidence(ctx context.Context, id string, rec model.ConfidenceRecord) error
	ListConfidence(ctx context.Context, id string) ([]model.ConfidenceRecord, error)
}

// ReportStore persists evaluation reports.
type ReportStore interface {
	SaveReport(ctx context.Context, r *model.EvaluationReport) error
	GetReport(ctx context.Context, id string) (*model.EvaluationReport, error)
	ListReports(ctx context.Context, limit int) ([]model.EvaluationReport, error)
}

// InsightStore keeps the running per-domain accuracy record. GetInsight
// returns nil, nil for a domain with no history.
type InsightStore interface {
	UpsertInsight(ctx context.Context, in model.DomainInsight) error
	GetInsight(ctx context.Context, domain string) (*model.DomainInsight, error)
	ListInsights(ctx context.Context) ([]model.DomainInsight, error)
}

// Store is the full persistence surface of a backend.
type Store interface {
	AnalysisStore
	SessionStore
	ConfidenceLedger
	ReportStore
	InsightStore

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the backend named by cfg.Driver with its schema migrated.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		st = NewMemory()
	case "sqlite":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

const defaultListLimit = 100
