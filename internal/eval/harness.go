// Package eval measures identification accuracy by running the pipeline
// over a fixed ground-truth corpus and scoring every answer.
package eval

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/scorer"
	"github.com/vintagevision/vintagevision/internal/store"
)

// Failure reasons for items that produced no outcome.
const (
	ReasonTimeout      = "timeout"
	ReasonAnalysisFail = "analysis failed"
)

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisOutcome, error)
}

// Options tunes a Harness.
type Options struct {
	Workers           int
	RequestsPerSecond float64
	ItemTimeout       time.Duration
	FixtureDir        string
	SmokeSize         int
	BootstrapSamples  int
	Seed              uint64
}

// OptionsFromConfig converts evaluation settings.
func OptionsFromConfig(cfg config.EvalConfig) Options {
	return Options{
		Workers:           cfg.Workers,
		RequestsPerSecond: cfg.RequestsPerSecond,
		ItemTimeout:       time.Duration(cfg.ItemTimeoutSecs) * time.Second,
		FixtureDir:        cfg.FixtureDir,
		SmokeSize:         cfg.SmokeSize,
		BootstrapSamples:  cfg.BootstrapSamples,
		Seed:              cfg.Seed,
	}
}

// Harness runs evaluation batches. One Harness may run several batches
// concurrently; they share its rate limiter.
type Harness struct {
	analyzer Analyzer
	scorer   *scorer.Scorer
	opts     Options
	limiter  *rate.Limiter

	reports  store.ReportStore
	insights store.InsightStore

	now func() time.Time
}

// New returns a Harness. A non-positive RequestsPerSecond disables rate
// limiting.
func New(analyzer Analyzer, sc *scorer.Scorer, opts Options) *Harness {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SmokeSize <= 0 {
		opts.SmokeSize = 10
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	return &Harness{
		analyzer: analyzer,
		scorer:   sc,
		opts:     opts,
		limiter:  limiter,
		now:      time.Now,
	}
}

// WithStores makes the harness save reports and fold per-domain results
// into the insight history. Either store may be nil.
func (h *Harness) WithStores(reports store.ReportStore, insights store.InsightStore) *Harness {
	h.reports = reports
	h.insights = insights
	return h
}

// SmokeSize is the configured smoke sample size.
func (h *Harness) SmokeSize() int {
	return h.opts.SmokeSize
}

// RunFull evaluates every item.
func (h *Harness) RunFull(ctx context.Context, items []model.GroundTruthItem) (*model.EvaluationReport, error) {
	return h.run(ctx, model.EvalFull, items)
}

// RunSmoke evaluates a pre-selected sample, usually from SmokeSample.
func (h *Harness) RunSmoke(ctx context.Context, sample []model.GroundTruthItem) (*model.EvaluationReport, error) {
	return h.run(ctx, model.EvalSmoke, sample)
}

// RunSingle evaluates one item. Failures are reported in the result.
func (h *Harness) RunSingle(ctx context.Context, item model.GroundTruthItem) model.ScoreResult {
	if err := h.limiter.Wait(ctx); err != nil {
		return h.failed(item, apperr.FromContext(ctx, "eval "+item.ID), 0)
	}
	res, _ := h.scoreItem(ctx, item)
	return res
}

func (h *Harness) run(ctx context.Context, mode model.EvalMode, items []model.GroundTruthItem) (*model.EvaluationReport, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("eval: no items to evaluate")
	}

	started := h.now().UTC()
	log := zap.L().With(zap.String("mode", string(mode)))
	log.Info("eval: starting",
		zap.Int("items", len(items)),
		zap.Int("workers", h.opts.Workers),
		zap.Float64("rps", h.opts.RequestsPerSecond),
	)

	var (
		mu      sync.Mutex
		results = make([]*model.ScoreResult, len(items))
		usage   model.TokenUsage
		costUSD float64
	)

	g := new(errgroup.Group)
	g.SetLimit(h.opts.Workers)

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot may free up after cancellation; unstarted items are skipped.
			if ctx.Err() != nil {
				return nil
			}
			if err := h.limiter.Wait(ctx); err != nil {
				return nil
			}

			res, out := h.scoreItem(context.WithoutCancel(ctx), item)

			mu.Lock()
			results[i] = &res
			if out != nil {
				usage.Add(out.Usage)
				costUSD += out.CostUSD
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "eval: batch")
	}

	done := make([]model.ScoreResult, 0, len(items))
	for _, r := range results {
		if r != nil {
			done = append(done, *r)
		}
	}

	report := BuildReport(ReportInput{
		ID:               uuid.New().String(),
		Mode:             mode,
		StartedAt:        started,
		CompletedAt:      h.now().UTC(),
		Total:            len(items),
		Cancelled:        ctx.Err() != nil,
		Scorer:           h.scorer.Config(),
		BootstrapSamples: h.opts.BootstrapSamples,
		Seed:             h.opts.Seed,
		Usage:            usage,
		CostUSD:          costUSD,
	}, done)

	log.Info("eval: complete",
		zap.String("report_id", report.ID),
		zap.Int("scored", report.Scored),
		zap.Int("errored", report.Errored),
		zap.Int("skipped", report.Skipped),
		zap.Bool("cancelled", report.Cancelled),
		zap.Float64("mean", report.Mean),
		zap.Float64("pass_rate", report.PassRate),
		zap.Float64("cost_usd", report.CostUSD),
	)

	h.persist(context.WithoutCancel(ctx), report)
	return report, nil
}

// scoreItem analyzes and scores one item under the per-item timeout.
func (h *Harness) scoreItem(ctx context.Context, item model.GroundTruthItem) (model.ScoreResult, *model.AnalysisOutcome) {
	start := h.now()
	if h.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ItemTimeout)
		defer cancel()
	}

	req := model.AnalysisRequest{
		ID:        "eval-" + item.ID + "-" + uuid.New().String()[:8],
		ImageRefs: []string{h.imagePath(item.ImageRef)},
	}
	out, err := h.analyzer.Analyze(ctx, req)
	elapsed := h.now().Sub(start)
	if err != nil {
		zap.L().Warn("eval: item failed", zap.String("item", item.ID), zap.Error(err))
		return h.failed(item, err, elapsed), nil
	}

	res := h.scorer.Score(item, out)
	res.DurationMs = elapsed.Milliseconds()
	zap.L().Debug("eval: item scored",
		zap.String("item", item.ID),
		zap.Float64("score", res.OverallScore),
		zap.Strings("failures", res.Failures),
	)
	return res, out
}

func (h *Harness) failed(item model.GroundTruthItem, err error, elapsed time.Duration) model.ScoreResult {
	reason := ReasonAnalysisFail
	if apperr.Is(err, apperr.KindTimeout) {
		reason = ReasonTimeout
	}
	return model.ScoreResult{
		ItemID:     item.ID,
		Domain:     item.Expected.Domain,
		Difficulty: item.Difficulty,
		Failures:   []string{reason},
		Error:      err.Error(),
		DurationMs: elapsed.Milliseconds(),
	}
}

func (h *Harness) imagePath(ref string) string {
	if h.opts.FixtureDir == "" || filepath.IsAbs(ref) || strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") {
		return ref
	}
	return filepath.Join(h.opts.FixtureDir, ref)
}

// persist saves the report and merges its per-domain results into the
// insight history. Failures are logged; the report is still returned.
func (h *Harness) persist(ctx context.Context, r *model.EvaluationReport) {
	if h.reports != nil {
		if err := h.reports.SaveReport(ctx, r); err != nil {
			zap.L().Error("eval: save report", zap.String("report_id", r.ID), zap.Error(err))
		}
	}
	if h.insights == nil || r.Cancelled {
		return
	}
	for _, stats := range r.ByDomain {
		prev, err := h.insights.GetInsight(ctx, stats.Domain)
		if err != nil {
			zap.L().Error("eval: load insight", zap.String("domain", stats.Domain), zap.Error(err))
			continue
		}
		var cur model.DomainInsight
		if prev != nil {
			cur = *prev
		}
		if err := h.insights.UpsertInsight(ctx, cur.Merge(stats, r.CompletedAt)); err != nil {
			zap.L().Error("eval: update insight", zap.String("domain", stats.Domain), zap.Error(err))
		}
	}
}
