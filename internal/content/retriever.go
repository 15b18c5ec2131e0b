package content

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultCandidateLimit bounds the working set considered for ranking.
// Only the newest DefaultCandidateLimit visible items are scored.
const DefaultCandidateLimit = 200

// Retriever fetches the bounded, newest-first candidate window for a viewer.
type Retriever struct {
	store  Store
	limit  int
	logger *slog.Logger
}

// NewRetriever creates a Retriever. A non-positive limit selects DefaultCandidateLimit.
func NewRetriever(store Store, limit int, logger *slog.Logger) *Retriever {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, limit: limit, logger: logger}
}

// Limit returns the candidate cap.
func (r *Retriever) Limit() int { return r.limit }

// Retrieve returns at most Limit items admitted by filter, newest first.
// Items a misbehaving store returns in violation of the filter are dropped.
func (r *Retriever) Retrieve(ctx context.Context, filter Filter) ([]Item, error) {
	items, err := r.store.FetchRecentVisibleApproved(ctx, filter, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve candidates: %w", err)
	}

	kept := items[:0]
	for i := range items {
		if !filter.Allows(&items[i]) {
			r.logger.WarnContext(ctx, "store returned item rejected by visibility filter",
				slog.String("item_id", items[i].ID),
				slog.String("viewer_id", filter.ViewerID()))
			continue
		}
		kept = append(kept, items[i])
	}
	if len(kept) > r.limit {
		kept = kept[:r.limit]
	}
	if kept == nil {
		kept = []Item{}
	}
	return kept, nil
}
