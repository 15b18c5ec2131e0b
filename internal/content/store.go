package content

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for content operations.
var (
	ErrItemNotFound = errors.New("content item not found")
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Store retrieves ranking candidates.
type Store interface {
	// FetchRecentVisibleApproved returns up to limit items the filter admits,
	// newest first (created_at DESC, id ASC). The filter is evaluated as part
	// of the retrieval itself. Returns an empty slice when nothing matches.
	FetchRecentVisibleApproved(ctx context.Context, filter Filter, limit int) ([]Item, error)
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewInMemoryStore creates a new in-memory content store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]*Item),
	}
}

// Put inserts or replaces an item. A missing ID is generated and a zero
// CreatedAt is set to now. Returns the stored item's ID.
func (s *InMemoryStore) Put(item Item) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	stored := item.Clone()
	s.items[stored.ID] = &stored
	return stored.ID
}

// Get returns a copy of a non-deleted item.
func (s *InMemoryStore) Get(id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil {
		return Item{}, ErrItemNotFound
	}
	return item.Clone(), nil
}

// Delete soft-deletes an item.
func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil {
		return ErrItemNotFound
	}
	now := time.Now()
	item.DeletedAt = &now
	return nil
}

// FetchRecentVisibleApproved implements Store. Filtering happens under the
// same read lock as collection.
func (s *InMemoryStore) FetchRecentVisibleApproved(ctx context.Context, filter Filter, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.Allows(item) {
			candidates = append(candidates, item)
		}
	}
	sortItemsByCreatedDesc(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Item, len(candidates))
	for i, item := range candidates {
		out[i] = item.Clone()
	}
	s.mu.RUnlock()

	return out, nil
}

// sortItemsByCreatedDesc sorts by created_at DESC, then by ID ASC for tie-breaking.
func sortItemsByCreatedDesc(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
