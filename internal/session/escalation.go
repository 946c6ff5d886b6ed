package session

import (
	"fmt"

	"github.com/vintagevision/vintagevision/internal/model"
	"github.com/vintagevision/vintagevision/internal/pipeline"
)

// reviewOptions lists the human review tiers, cheapest first.
func reviewOptions(domain string) []model.ReviewOption {
	expert := pipeline.PolicyFor(domain).Expert
	return []model.ReviewOption{
		{
			Tier:        1,
			Name:        "Reference research",
			Description: "Compare the marks and construction against published reference guides and auction records for comparable pieces.",
			CostRange:   "free",
			Turnaround:  "hours",
		},
		{
			Tier:        2,
			Name:        "Collector community review",
			Description: "Post clear photos of the item and its marks to a specialist collectors' forum or society for informal opinions.",
			CostRange:   "free",
			Turnaround:  "1-3 days",
		},
		{
			Tier:        3,
			Name:        "Certified appraiser",
			Description: fmt.Sprintf("Book a written appraisal with a certified appraiser, ideally %s.", expert),
			CostRange:   "$150-$500",
			Turnaround:  "1-2 weeks",
		},
		{
			Tier:        4,
			Name:        "Auction house specialist",
			Description: "Submit the item to an auction house specialist department for a hands-on examination and estimate.",
			CostRange:   "free to consign, fees on sale",
			Turnaround:  "2-6 weeks",
		},
	}
}

// escalate decides whether s should be referred to a human. It is advisory
// and never changes the session status.
func escalate(s *model.InteractiveSession, maxRounds int, plateaued bool) *model.EscalationRecommendation {
	var blocking []string
	for _, n := range s.UnresolvedWith(model.PriorityCritical) {
		blocking = append(blocking, n.Type)
	}

	var reason string
	switch {
	case s.Round >= maxRounds && len(blocking) > 0:
		reason = fmt.Sprintf("critical information is still missing after %d round(s)", s.Round)
	case plateaued:
		reason = "confidence has stopped improving with additional evidence"
	default:
		return nil
	}

	domain := pipeline.GeneralDomain
	if s.Outcome != nil {
		domain = s.Outcome.Domain
	}
	return &model.EscalationRecommendation{
		Reason:   reason,
		Rounds:   s.Round,
		Blocking: blocking,
		Options:  reviewOptions(domain),
	}
}
