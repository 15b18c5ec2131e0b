// Package profile resolves the viewer context used for feed personalization:
// who the viewer follows, which topics they care about and what they saved.
package profile

import (
	"errors"
	"sort"
	"strings"
)

// ErrViewerNotFound is returned when no profile exists for a viewer id.
var ErrViewerNotFound = errors.New("viewer not found")

// Viewer is an immutable snapshot of a viewer's personalization inputs.
// All sets are keyed by identifier; topic interests are lower-cased.
type Viewer struct {
	ID              string
	FollowedAuthors map[string]struct{}
	TopicInterests  map[string]struct{}
	SavedItems      map[string]struct{}
}

// NewViewer builds a Viewer, dropping empty values and duplicates.
// Interests are normalized to lower case.
func NewViewer(id string, followed, interests, saved []string) *Viewer {
	return &Viewer{
		ID:              id,
		FollowedAuthors: toSet(followed, false),
		TopicInterests:  toSet(interests, true),
		SavedItems:      toSet(saved, false),
	}
}

// Anonymous returns an empty profile for a viewer id with no personalization data.
func Anonymous(id string) *Viewer {
	return NewViewer(id, nil, nil, nil)
}

// DeriveInterests merges declared skills and expertise topics into the
// normalized interest list, in first-seen order.
func DeriveInterests(skills, expertise []string) []string {
	seen := make(map[string]struct{}, len(skills)+len(expertise))
	out := make([]string, 0, len(skills)+len(expertise))
	for _, list := range [][]string{skills, expertise} {
		for _, v := range list {
			t := normalizeTopic(v)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Follows reports whether the viewer follows authorID.
func (v *Viewer) Follows(authorID string) bool {
	if v == nil || authorID == "" {
		return false
	}
	_, ok := v.FollowedAuthors[authorID]
	return ok
}

// InterestedIn reports whether topic is one of the viewer's interests.
// topic is expected in normalized form.
func (v *Viewer) InterestedIn(topic string) bool {
	if v == nil || topic == "" {
		return false
	}
	_, ok := v.TopicInterests[topic]
	return ok
}

// HasSaved reports whether the viewer saved itemID.
func (v *Viewer) HasSaved(itemID string) bool {
	if v == nil || itemID == "" {
		return false
	}
	_, ok := v.SavedItems[itemID]
	return ok
}

// FollowedList returns the followed author ids sorted ascending.
func (v *Viewer) FollowedList() []string { return sortedKeys(v.followed()) }

// InterestList returns the topic interests sorted ascending.
func (v *Viewer) InterestList() []string {
	if v == nil {
		return nil
	}
	return sortedKeys(v.TopicInterests)
}

// SavedList returns the saved item ids sorted ascending.
func (v *Viewer) SavedList() []string {
	if v == nil {
		return nil
	}
	return sortedKeys(v.SavedItems)
}

func (v *Viewer) followed() map[string]struct{} {
	if v == nil {
		return nil
	}
	return v.FollowedAuthors
}

func normalizeTopic(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toSet(values []string, normalize bool) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if normalize {
			v = normalizeTopic(v)
		}
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
