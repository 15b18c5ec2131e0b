package profile

import (
	"context"
	"sync"
)

// Store loads viewer profiles.
type Store interface {
	// FetchViewerProfile returns the viewer's snapshot or ErrViewerNotFound.
	FetchViewerProfile(ctx context.Context, viewerID string) (*Viewer, error)
}

// record is the mutable per-user state kept by InMemoryStore.
type record struct {
	skills    []string
	expertise []string
	followed  map[string]struct{}
	saved     map[string]struct{}
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*record
}

// NewInMemoryStore creates a new in-memory profile store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*record)}
}

// PutUser creates or replaces a user's declared skills and expertise topics.
// Existing follows and saves are kept.
func (s *InMemoryStore) PutUser(id string, skills, expertise []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ensure(id)
	r.skills = append([]string(nil), skills...)
	r.expertise = append([]string(nil), expertise...)
}

// Follow records that followerID follows followeeID. The follower is created if missing.
func (s *InMemoryStore) Follow(followerID, followeeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(followerID).followed[followeeID] = struct{}{}
}

// Save records that userID saved itemID. The user is created if missing.
func (s *InMemoryStore) Save(userID, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(userID).saved[itemID] = struct{}{}
}

func (s *InMemoryStore) ensure(id string) *record {
	r, ok := s.users[id]
	if !ok {
		r = &record{
			followed: make(map[string]struct{}),
			saved:    make(map[string]struct{}),
		}
		s.users[id] = r
	}
	return r
}

// FetchViewerProfile implements Store.
func (s *InMemoryStore) FetchViewerProfile(ctx context.Context, viewerID string) (*Viewer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[viewerID]
	if !ok || viewerID == "" {
		return nil, ErrViewerNotFound
	}
	return NewViewer(viewerID,
		sortedKeys(r.followed),
		DeriveInterests(r.skills, r.expertise),
		sortedKeys(r.saved),
	), nil
}
