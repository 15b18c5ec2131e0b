// Package content provides the content item model consumed by the feed ranker,
// the visibility rules that gate it, and the stores that retrieve candidates.
package content

import (
	"strings"
	"time"
)

// Visibility is the access-control tier of an item.
type Visibility string

// Visibility classifications.
const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityFollowers Visibility = "followers"
)

// ModerationState is the review status of an item.
type ModerationState string

// Moderation states.
const (
	ModerationApproved ModerationState = "approved"
	ModerationPending  ModerationState = "pending"
	ModerationRejected ModerationState = "rejected"
)

// Engagement holds the interaction counters of an item.
// Negative values are treated as zero by every consumer.
type Engagement struct {
	Likes    int64 `json:"like_count"`
	Comments int64 `json:"comment_count"`
	Saves    int64 `json:"save_count"`
	Views    int64 `json:"view_count"`
}

// Item is a piece of user content (post, question, article) as seen by the ranker.
// Items are owned by the content store; the ranker never mutates them.
type Item struct {
	ID         string          `json:"id"`
	AuthorID   string          `json:"author_id"`
	Title      string          `json:"title,omitempty"`
	Body       string          `json:"body,omitempty"`
	Visibility Visibility      `json:"visibility"`
	Moderation ModerationState `json:"moderation_state"`
	Engagement Engagement      `json:"engagement"`
	Tags       []string        `json:"tags,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"-"`
}

// Clone returns a copy of the item that shares no slices with the original.
func (i Item) Clone() Item {
	c := i
	if i.Tags != nil {
		c.Tags = make([]string, len(i.Tags))
		copy(c.Tags, i.Tags)
	}
	if i.DeletedAt != nil {
		t := *i.DeletedAt
		c.DeletedAt = &t
	}
	return c
}

// NormalizedTags returns the item's tags lower-cased and trimmed, in their
// original order, with empties and duplicates removed.
func (i Item) NormalizedTags() []string {
	if len(i.Tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(i.Tags))
	out := make([]string, 0, len(i.Tags))
	for _, tag := range i.Tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// nonNegative clamps malformed counters to zero.
func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// Sanitized returns the counters with negative values replaced by zero.
func (e Engagement) Sanitized() Engagement {
	return Engagement{
		Likes:    nonNegative(e.Likes),
		Comments: nonNegative(e.Comments),
		Saves:    nonNegative(e.Saves),
		Views:    nonNegative(e.Views),
	}
}
