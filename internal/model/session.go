package model

import (
	"slices"
	"time"
)

// Priority orders information needs. Lower rank sorts first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of p. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// InformationNeed is a piece of evidence that would raise confidence.
type InformationNeed struct {
	ID                     string       `json:"id"`
	Type                   string       `json:"type"`
	Kind                   EvidenceKind `json:"kind"`
	Priority               Priority     `json:"priority"`
	Question               string       `json:"question"`
	ExpectedConfidenceGain float64      `json:"expected_confidence_gain"`
	Resolved               bool         `json:"resolved"`
	ResolvedAt             *time.Time   `json:"resolved_at,omitempty"`
}

// SessionStatus is the state of an interactive session.
type SessionStatus string

const (
	SessionGatheringInfo SessionStatus = "gathering_info"
	SessionProcessing    SessionStatus = "processing"
	SessionComplete      SessionStatus = "complete"
	SessionAbandoned     SessionStatus = "abandoned"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionAbandoned
}

// TranscriptRole identifies who produced a transcript entry.
type TranscriptRole string

const (
	RoleSystem TranscriptRole = "system"
	RoleUser   TranscriptRole = "user"
)

// TranscriptEntry is one line of the session conversation.
type TranscriptEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Role      TranscriptRole `json:"role"`
	NeedID    string         `json:"need_id,omitempty"`
	Kind      EvidenceKind   `json:"kind,omitempty"`
	Content   string         `json:"content"`
}

// ConfidenceRegression records a re-run that came back below the prior
// maximum. The ledger holds the maximum; the regression is kept here.
type ConfidenceRegression struct {
	Round    int       `json:"round"`
	Previous float64   `json:"previous"`
	Observed float64   `json:"observed"`
	At       time.Time `json:"at"`
}

// ReviewOption is one tier of human expert review.
type ReviewOption struct {
	Tier        int    `json:"tier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CostRange   string `json:"cost_range,omitempty"`
	Turnaround  string `json:"turnaround,omitempty"`
}

// EscalationRecommendation is advisory data attached to a session when
// automated analysis stops paying off. It never changes session state.
type EscalationRecommendation struct {
	Reason   string         `json:"reason"`
	Rounds   int            `json:"rounds"`
	Blocking []string       `json:"blocking,omitempty"`
	Options  []ReviewOption `json:"options"`
}

// InteractiveSession tracks evidence gathering for one outcome. Sessions
// in a follow-up chain share a LineageID.
type InteractiveSession struct {
	ID                string                    `json:"id"`
	LineageID         string                    `json:"lineage_id"`
	ParentID          string                    `json:"parent_id,omitempty"`
	FollowedBy        string                    `json:"followed_by,omitempty"`
	OutcomeID         string                    `json:"outcome_id"`
	Request           AnalysisRequest           `json:"request"`
	Outcome           *AnalysisOutcome          `json:"outcome,omitempty"`
	Needs             []InformationNeed         `json:"needs"`
	Transcript        []TranscriptEntry         `json:"transcript"`
	ConfidenceHistory []ConfidenceRecord        `json:"confidence_history"`
	Status            SessionStatus             `json:"status"`
	Round             int                       `json:"round"`
	Regressions       []ConfidenceRegression    `json:"regressions,omitempty"`
	Escalation        *EscalationRecommendation `json:"escalation,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// Need returns the need with the given id.
func (s *InteractiveSession) Need(id string) (*InformationNeed, bool) {
	for i := range s.Needs {
		if s.Needs[i].ID == id {
			return &s.Needs[i], true
		}
	}
	return nil, false
}

// ResolvedEvidence returns the user evidence collected for resolved needs,
// in transcript order. A need answered more than once contributes only its
// latest answer.
func (s *InteractiveSession) ResolvedEvidence() []Evidence {
	latest := make(map[string]int)
	for i, e := range s.Transcript {
		if e.Role == RoleUser && e.NeedID != "" {
			latest[e.NeedID] = i
		}
	}
	var out []Evidence
	for i, e := range s.Transcript {
		if e.Role != RoleUser || e.NeedID == "" || latest[e.NeedID] != i {
			continue
		}
		need, ok := s.Need(e.NeedID)
		if !ok || !need.Resolved {
			continue
		}
		out = append(out, Evidence{NeedID: e.NeedID, NeedType: need.Type, Kind: e.Kind, Content: e.Content})
	}
	return out
}

// UnresolvedWith returns unresolved needs at the given priorities.
func (s *InteractiveSession) UnresolvedWith(priorities ...Priority) []InformationNeed {
	var out []InformationNeed
	for _, n := range s.Needs {
		if !n.Resolved && slices.Contains(priorities, n.Priority) {
			out = append(out, n)
		}
	}
	return out
}

// Clone returns a deep-enough copy for snapshot reads.
func (s *InteractiveSession) Clone() *InteractiveSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Needs = slices.Clone(s.Needs)
	c.Transcript = slices.Clone(s.Transcript)
	c.ConfidenceHistory = slices.Clone(s.ConfidenceHistory)
	c.Regressions = slices.Clone(s.Regressions)
	c.Request = s.Request.WithEvidence()
	return &c
}
