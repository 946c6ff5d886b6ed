package model

import "time"

// Difficulty grades how hard a ground-truth item is to identify.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ExpectedIdentification is the reference answer for a ground-truth item.
type ExpectedIdentification struct {
	Name              string     `json:"name" yaml:"name"`
	NameKeywords      []string   `json:"name_keywords,omitempty" yaml:"name_keywords"`
	Maker             string     `json:"maker,omitempty" yaml:"maker"`
	MakerAlternatives []string   `json:"maker_alternatives,omitempty" yaml:"maker_alternatives"`
	Era               YearRange  `json:"era" yaml:"era"`
	Value             ValueRange `json:"value" yaml:"value"`
	Domain            string     `json:"domain" yaml:"domain"`
}

// GroundTruthItem is a static evaluation fixture.
type GroundTruthItem struct {
	ID         string                 `json:"id" yaml:"id"`
	ImageRef   string                 `json:"image_ref" yaml:"image"`
	Expected   ExpectedIdentification `json:"expected" yaml:"expected"`
	Difficulty Difficulty             `json:"difficulty" yaml:"difficulty"`
}

// ComponentScores are per-field similarities in [0,1].
type ComponentScores struct {
	Name  float64 `json:"name"`
	Maker float64 `json:"maker"`
	Era   float64 `json:"era"`
	Value float64 `json:"value"`
}

// ScoreResult is the score of one evaluated item.
type ScoreResult struct {
	ItemID       string          `json:"item_id"`
	Domain       string          `json:"domain"`
	Difficulty   Difficulty      `json:"difficulty,omitempty"`
	Components   ComponentScores `json:"components"`
	OverallScore float64         `json:"overall_score"`
	Failures     []string        `json:"failures,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
}

// Band is a coarse score grade.
type Band string

const (
	BandExcellent  Band = "excellent"
	BandGood       Band = "good"
	BandAcceptable Band = "acceptable"
	BandPoor       Band = "poor"
	BandFailed     Band = "failed"
)

// EvalMode names how a harness run was invoked.
type EvalMode string

const (
	EvalSmoke  EvalMode = "smoke"
	EvalFull   EvalMode = "full"
	EvalSingle EvalMode = "single"
)

// DomainStats summarizes scores within one domain.
type DomainStats struct {
	Domain   string  `json:"domain"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	PassRate float64 `json:"pass_rate"`
}

// FailureCluster groups identical failure reasons within a domain.
type FailureCluster struct {
	Reason string `json:"reason"`
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// Label renders the cluster as "<reason> in <domain>".
func (f FailureCluster) Label() string {
	return f.Reason + " in " + f.Domain
}

// ConfidenceInterval is a two-sided interval around a point estimate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// EvaluationReport aggregates a harness run.
type EvaluationReport struct {
	ID             string             `json:"id"`
	Mode           EvalMode           `json:"mode"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at"`
	Results        []ScoreResult      `json:"results"`
	Total          int                `json:"total"`
	Scored         int                `json:"scored"`
	Errored        int                `json:"errored"`
	Skipped        int                `json:"skipped"`
	Cancelled      bool               `json:"cancelled"`
	Mean           float64            `json:"mean"`
	Median         float64            `json:"median"`
	StdDev         float64            `json:"std_dev"`
	Min            float64            `json:"min"`
	Max            float64            `json:"max"`
	MeanCI         ConfidenceInterval `json:"mean_ci"`
	PassRate       float64            `json:"pass_rate"`
	PassThreshold  float64            `json:"pass_threshold"`
	Bands          map[Band]int       `json:"bands"`
	ByDomain       []DomainStats      `json:"by_domain"`
	CommonFailures []FailureCluster   `json:"common_failures,omitempty"`
	Usage          TokenUsage         `json:"usage"`
	CostUSD        float64            `json:"cost_usd"`
}

// DomainInsight is the running accuracy record for one domain across
// evaluation runs.
type DomainInsight struct {
	Domain    string    `json:"domain"`
	Runs      int       `json:"runs"`
	Items     int       `json:"items"`
	MeanScore float64   `json:"mean_score"`
	PassRate  float64   `json:"pass_rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merge folds a new run's domain stats into the insight, weighting by item
// count.
func (d DomainInsight) Merge(stats DomainStats, at time.Time) DomainInsight {
	total := d.Items + stats.Count
	if total == 0 {
		return d
	}
	d.MeanScore = (d.MeanScore*float64(d.Items) + stats.Mean*float64(stats.Count)) / float64(total)
	d.PassRate = (d.PassRate*float64(d.Items) + stats.PassRate*float64(stats.Count)) / float64(total)
	d.Items = total
	d.Runs++
	d.Domain = stats.Domain
	d.UpdatedAt = at
	return d
}
