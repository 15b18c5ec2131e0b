package ranking

import "strings"

// Reason strings, in the order they are emitted.
const (
	ReasonFollowing      = "From someone you follow"
	ReasonTopicPrefix    = "Matches your interests: "
	ReasonPopularSavers  = "Popular with savers"
	ReasonHighEngagement = "High engagement"
)

// Explainer turns a candidate's breakdown into display reasons.
// Reasons are advisory and never affect ordering.
type Explainer struct {
	w Weights
}

// NewExplainer creates an Explainer. A nil weights value selects DefaultWeights.
func NewExplainer(weights *Weights) *Explainer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Explainer{w: *weights}
}

// Reasons returns the signals that fired for c, in fixed priority order:
// followed author, matched topics, popular with savers, high engagement.
func (e *Explainer) Reasons(c Candidate) []string {
	reasons := make([]string, 0, 4)

	if c.FollowingAuthor && c.Breakdown.Social > 0 {
		reasons = append(reasons, ReasonFollowing)
	}

	if c.Breakdown.Topic > 0 && len(c.Breakdown.MatchedTopics) > 0 {
		topics := c.Breakdown.MatchedTopics
		if limit := e.w.MaxTopicReasons; limit > 0 && len(topics) > limit {
			topics = topics[:limit]
		}
		reasons = append(reasons, ReasonTopicPrefix+strings.Join(topics, ", "))
	}

	if c.Item.Engagement.Sanitized().Saves >= e.w.PopularSavesThreshold {
		reasons = append(reasons, ReasonPopularSavers)
	}

	if c.Breakdown.Engagement > e.w.HighEngagementThreshold {
		reasons = append(reasons, ReasonHighEngagement)
	}

	return reasons
}
