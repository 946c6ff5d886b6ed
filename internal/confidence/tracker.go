// Package confidence keeps the append-only confidence log for analyses and
// session lineages.
package confidence

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/config"
	"github.com/vintagevision/vintagevision/internal/model"
)

// Ledger is the storage behind a Tracker. store.ConfidenceLedger satisfies it.
type Ledger interface {
	AppendConfidence(ctx context.Context, id string, rec model.ConfidenceRecord) error
	ListConfidence(ctx context.Context, id string) ([]model.ConfidenceRecord, error)
}

// PlateauPolicy decides when further rounds stop paying off.
type PlateauPolicy struct {
	Rounds  int
	MinGain float64
}

// PlateauFromConfig builds a PlateauPolicy from session settings.
func PlateauFromConfig(cfg config.SessionConfig) PlateauPolicy {
	return PlateauPolicy{Rounds: cfg.PlateauRounds, MinGain: cfg.PlateauMinGain}
}

// Tracker records confidence estimates. It never overwrites a record.
type Tracker struct {
	ledger Ledger
	now    func() time.Time
}

// NewTracker returns a Tracker writing to ledger.
func NewTracker(ledger Ledger) *Tracker {
	return &Tracker{ledger: ledger, now: time.Now}
}

// Record appends a confidence estimate for id.
func (t *Tracker) Record(ctx context.Context, id string, confidence float64, reason string) (model.ConfidenceRecord, error) {
	if id == "" {
		return model.ConfidenceRecord{}, apperr.Validation("confidence: id is required")
	}
	if !inRange(confidence) {
		return model.ConfidenceRecord{}, apperr.Validation("confidence: %v out of range [0,1]", confidence)
	}
	rec := model.ConfidenceRecord{
		Timestamp:  t.now().UTC(),
		Confidence: confidence,
		Reason:     reason,
	}
	if err := t.ledger.AppendConfidence(ctx, id, rec); err != nil {
		return model.ConfidenceRecord{}, eris.Wrapf(err, "confidence: append %s", id)
	}
	return rec, nil
}

// History returns every record for id in append order.
func (t *Tracker) History(ctx context.Context, id string) ([]model.ConfidenceRecord, error) {
	recs, err := t.ledger.ListConfidence(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "confidence: history %s", id)
	}
	return recs, nil
}

// Latest returns the most recent record for id.
func (t *Tracker) Latest(ctx context.Context, id string) (model.ConfidenceRecord, bool, error) {
	recs, err := t.History(ctx, id)
	if err != nil || len(recs) == 0 {
		return model.ConfidenceRecord{}, false, err
	}
	return recs[len(recs)-1], true, nil
}

// Delta returns the change between the last two records, or 0 when fewer
// than two exist.
func (t *Tracker) Delta(ctx context.Context, id string) (float64, error) {
	recs, err := t.History(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(recs) < 2 {
		return 0, nil
	}
	return recs[len(recs)-1].Confidence - recs[len(recs)-2].Confidence, nil
}

// Plateaued reports whether at least p.Rounds records follow a baseline and
// the cumulative gain over those rounds is below p.MinGain.
func (t *Tracker) Plateaued(ctx context.Context, id string, p PlateauPolicy) (bool, error) {
	recs, err := t.History(ctx, id)
	if err != nil {
		return false, err
	}
	return p.Check(recs), nil
}

// Check applies p to a history already in hand.
func (p PlateauPolicy) Check(recs []model.ConfidenceRecord) bool {
	if p.Rounds <= 0 || len(recs) < p.Rounds+1 {
		return false
	}
	last := recs[len(recs)-1].Confidence
	base := recs[len(recs)-1-p.Rounds].Confidence
	return last-base < p.MinGain
}

// RecordRound appends the result of an interactive round. Rounds never lower
// the recorded confidence: a regression is held at the prior maximum under
// the same reason, logged, and reported so the caller can keep the observed
// value elsewhere.
func (t *Tracker) RecordRound(ctx context.Context, id string, confidence float64, reason string) (model.ConfidenceRecord, bool, error) {
	if !inRange(confidence) {
		return model.ConfidenceRecord{}, false, apperr.Validation("confidence: %v out of range [0,1]", confidence)
	}
	recs, err := t.History(ctx, id)
	if err != nil {
		return model.ConfidenceRecord{}, false, err
	}

	prior := -1.0
	for _, r := range recs {
		prior = max(prior, r.Confidence)
	}

	regressed := prior >= 0 && confidence < prior
	held := confidence
	if regressed {
		zap.L().Warn("confidence: round regressed, holding prior maximum",
			zap.String("id", id),
			zap.Float64("observed", confidence),
			zap.Float64("held", prior),
			zap.String("reason", reason),
		)
		held = prior
	}

	rec, err := t.Record(ctx, id, held, reason)
	return rec, regressed, err
}

func inRange(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}
