package ranking

import (
	"time"

	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/profile"
)

// Breakdown holds the additive contributions that make up a candidate's score.
type Breakdown struct {
	Engagement float64 `json:"engagement"`
	Recency    float64 `json:"recency"`
	Topic      float64 `json:"topic"`
	Social     float64 `json:"social"`
	Saved      float64 `json:"saved"`

	// MatchedTopics lists the item tags the viewer is interested in,
	// in the item's tag order.
	MatchedTopics []string `json:"matched_topics,omitempty"`
}

// Total returns the composite score.
func (b Breakdown) Total() float64 {
	return b.Engagement + b.Recency + b.Topic + b.Social + b.Saved
}

// Base returns the unpersonalized part of the score.
func (b Breakdown) Base() float64 {
	return b.Engagement + b.Recency
}

// Scorer computes candidate scores from a fixed set of weights.
// A Scorer is immutable and safe for concurrent use.
type Scorer struct {
	w Weights
}

// NewScorer creates a Scorer. A nil weights value selects DefaultWeights.
func NewScorer(weights *Weights) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Scorer{w: *weights}
}

// Weights returns a copy of the scorer's weights.
func (s *Scorer) Weights() Weights { return s.w }

// EngagementScore returns the weighted interaction sum. Negative counters count as zero.
func (s *Scorer) EngagementScore(e content.Engagement) float64 {
	e = e.Sanitized()
	return float64(e.Likes)*s.w.Engagement.Like +
		float64(e.Comments)*s.w.Engagement.Comment +
		float64(e.Saves)*s.w.Engagement.Save +
		float64(e.Views)*s.w.Engagement.View
}

// RecencyScore returns the linear recency bonus for an item created at createdAt.
// Ages below MinAgeHours (including future timestamps) are clamped up; the
// bonus is exactly zero once the age reaches RecencyWindowHours.
func (s *Scorer) RecencyScore(createdAt, now time.Time) float64 {
	hoursAgo := now.Sub(createdAt).Hours()
	if hoursAgo < s.w.MinAgeHours {
		hoursAgo = s.w.MinAgeHours
	}
	recency := s.w.RecencyWindowHours - hoursAgo
	if recency < 0 {
		return 0
	}
	return recency
}

// Score computes the breakdown for item as seen by viewer at now.
// A nil viewer yields only the engagement and recency components.
func (s *Scorer) Score(item *content.Item, viewer *profile.Viewer, now time.Time) Breakdown {
	b := Breakdown{
		Engagement: s.EngagementScore(item.Engagement),
		Recency:    s.RecencyScore(item.CreatedAt, now),
	}
	if viewer == nil {
		return b
	}

	for _, tag := range item.NormalizedTags() {
		if viewer.InterestedIn(tag) {
			b.MatchedTopics = append(b.MatchedTopics, tag)
		}
	}
	b.Topic = float64(len(b.MatchedTopics)) * s.w.TopicBoost

	if viewer.Follows(item.AuthorID) {
		b.Social = s.w.SocialBoost
	}
	if viewer.HasSaved(item.ID) {
		b.Saved = s.w.SavedBoost
	}
	return b
}

// Candidate is a scored content item.
type Candidate struct {
	Item            content.Item
	Score           float64
	Breakdown       Breakdown
	FollowingAuthor bool
}

// NewCandidate scores item for viewer. viewer may be nil.
func (s *Scorer) NewCandidate(item content.Item, viewer *profile.Viewer, now time.Time) Candidate {
	b := s.Score(&item, viewer, now)
	return Candidate{
		Item:            item,
		Score:           b.Total(),
		Breakdown:       b,
		FollowingAuthor: viewer.Follows(item.AuthorID),
	}
}
