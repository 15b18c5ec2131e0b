package content

import "sort"

// AudienceRule is one way an item's visibility classification can admit a viewer.
// A Filter admits an item if any of its audience rules match.
type AudienceRule int

const (
	// AllowPublic admits items classified public.
	AllowPublic AudienceRule = iota
	// AllowOwnPrivate admits private items authored by the viewer.
	AllowOwnPrivate
	// AllowFollowers admits followers-only items whose author is the viewer
	// or someone the viewer follows.
	AllowFollowers
)

// String returns the rule name used in logs.
func (r AudienceRule) String() string {
	switch r {
	case AllowPublic:
		return "public"
	case AllowOwnPrivate:
		return "own_private"
	case AllowFollowers:
		return "followers"
	default:
		return "unknown"
	}
}

// Filter decides whether a viewer may see an item.
//
// An item is visible when at least one audience rule matches AND the
// moderation gate passes. The gate admits approved items, and any item
// authored by the viewer regardless of its moderation state.
//
// Missing data never matches: an empty visibility, moderation state, author
// or viewer id hides the item unless another rule admits it.
// A Filter is immutable once built and safe for concurrent use.
type Filter struct {
	viewerID string
	followed map[string]struct{}
	rules    []AudienceRule
}

// NewFilter builds the full filter for a known viewer.
// An empty viewerID yields a filter equivalent to PublicFilter.
func NewFilter(viewerID string, followedAuthors []string) Filter {
	followed := make(map[string]struct{}, len(followedAuthors))
	for _, id := range followedAuthors {
		if id != "" {
			followed[id] = struct{}{}
		}
	}
	return Filter{
		viewerID: viewerID,
		followed: followed,
		rules:    []AudienceRule{AllowPublic, AllowOwnPrivate, AllowFollowers},
	}
}

// PublicFilter admits only public, approved items.
func PublicFilter() Filter {
	return Filter{rules: []AudienceRule{AllowPublic}}
}

// ViewerID returns the viewer the filter was built for (empty for anonymous).
func (f Filter) ViewerID() string { return f.viewerID }

// Rules returns a copy of the filter's audience rules.
func (f Filter) Rules() []AudienceRule {
	out := make([]AudienceRule, len(f.rules))
	copy(out, f.rules)
	return out
}

// FollowedAuthors returns the followed author ids in sorted order.
func (f Filter) FollowedAuthors() []string {
	out := make([]string, 0, len(f.followed))
	for id := range f.followed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasRule reports whether the filter carries the given audience rule.
func (f Filter) HasRule(rule AudienceRule) bool {
	for _, r := range f.rules {
		if r == rule {
			return true
		}
	}
	return false
}

// Allows reports whether the viewer may see the item.
func (f Filter) Allows(item *Item) bool {
	if item == nil || item.DeletedAt != nil {
		return false
	}
	return f.audienceAllows(item) && f.moderationAllows(item)
}

func (f Filter) isAuthor(item *Item) bool {
	return f.viewerID != "" && item.AuthorID == f.viewerID
}

func (f Filter) audienceAllows(item *Item) bool {
	for _, rule := range f.rules {
		switch rule {
		case AllowPublic:
			if item.Visibility == VisibilityPublic {
				return true
			}
		case AllowOwnPrivate:
			if item.Visibility == VisibilityPrivate && f.isAuthor(item) {
				return true
			}
		case AllowFollowers:
			if item.Visibility != VisibilityFollowers || item.AuthorID == "" {
				continue
			}
			if f.isAuthor(item) {
				return true
			}
			if _, ok := f.followed[item.AuthorID]; ok {
				return true
			}
		}
	}
	return false
}

func (f Filter) moderationAllows(item *Item) bool {
	return item.Moderation == ModerationApproved || f.isAuthor(item)
}
