// Package server exposes analyses, interactive sessions and evaluations
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
	"github.com/vintagevision/vintagevision/internal/session"
	"github.com/vintagevision/vintagevision/internal/store"
)

// maxBodyBytes bounds request bodies. Images may arrive inline as data URIs.
const maxBodyBytes = 32 << 20

// Analyses runs and fetches analyses.
type Analyses interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisOutcome, error)
	Stream(ctx context.Context, req model.AnalysisRequest, sink pipeline.EventSink) (*model.AnalysisOutcome, error)
	Get(ctx context.Context, id string) (*model.AnalysisOutcome, error)
}

// Sessions drives interactive sessions.
type Sessions interface {
	Start(ctx context.Context, outcomeID string, opts session.StartOptions) (*model.InteractiveSession, error)
	Get(ctx context.Context, id string) (*model.InteractiveSession, error)
	Respond(ctx context.Context, id, needID string, kind model.EvidenceKind, content string) (*model.InteractiveSession, error)
	Reanalyze(ctx context.Context, id string) (*session.Result, error)
	Abandon(ctx context.Context, id string) (*model.InteractiveSession, error)
	FollowUp(ctx context.Context, id string) (*model.InteractiveSession, error)
}

// Evaluator runs evaluation batches.
type Evaluator interface {
	RunFull(ctx context.Context, items []model.GroundTruthItem) (*model.EvaluationReport, error)
	RunSmoke(ctx context.Context, sample []model.GroundTruthItem) (*model.EvaluationReport, error)
	RunSingle(ctx context.Context, item model.GroundTruthItem) model.ScoreResult
	SmokeSize() int
}

// Deps are the services behind the routes. Evaluator, Reports and Insights
// may be nil, in which case their routes answer 404.
type Deps struct {
	Analyses  Analyses
	Sessions  Sessions
	Evaluator Evaluator
	Corpus    []model.GroundTruthItem
	Reports   store.ReportStore
	Insights  store.InsightStore
}

// Server is the HTTP surface.
type Server struct {
	deps Deps
	cfg  config.ServerConfig
}

// New returns a Server.
func New(deps Deps, cfg config.ServerConfig) *Server {
	return &Server{deps: deps, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.createAnalysis)
			r.Get("/stream", s.streamAnalysis)
			r.Post("/stream", s.streamAnalysis)
			r.Get("/{id}", s.getAnalysis)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/respond", s.respondSession)
				r.Post("/reanalyze", s.reanalyzeSession)
				r.Post("/abandon", s.abandonSession)
				r.Post("/follow-up", s.followUpSession)
			})
		})

		r.Post("/eval/{mode}", s.runEval)
		r.Get("/eval/reports", s.listReports)
		r.Get("/eval/reports/{id}", s.getReport)
		r.Get("/insights", s.listInsights)
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
