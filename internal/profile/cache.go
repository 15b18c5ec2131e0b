package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/feedrank/internal/tracing"
)

// DefaultCacheTTL is how long a cached profile snapshot is served.
const DefaultCacheTTL = 60 * time.Second

const cacheKeyPrefix = "profile:"

// snapshot is the cached wire form of a Viewer. Slices are sorted so the
// encoding of equal profiles is identical.
type snapshot struct {
	ID        string   `json:"id"`
	Followed  []string `json:"followed,omitempty"`
	Interests []string `json:"interests,omitempty"`
	Saved     []string `json:"saved,omitempty"`
}

func toSnapshot(v *Viewer) snapshot {
	return snapshot{
		ID:        v.ID,
		Followed:  v.FollowedList(),
		Interests: v.InterestList(),
		Saved:     v.SavedList(),
	}
}

func (s snapshot) viewer() *Viewer {
	return NewViewer(s.ID, s.Followed, s.Interests, s.Saved)
}

// CachedStore is a read-through Redis cache in front of another Store.
// Redis failures are logged and the underlying store is used instead.
// Unknown viewers are not cached.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps next with a Redis cache. A non-positive ttl selects DefaultCacheTTL.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger}
}

// CacheKey returns the Redis key holding a viewer's snapshot.
func CacheKey(viewerID string) string {
	return cacheKeyPrefix + viewerID
}

// FetchViewerProfile implements Store.
func (c *CachedStore) FetchViewerProfile(ctx context.Context, viewerID string) (*Viewer, error) {
	if viewerID == "" {
		return nil, ErrViewerNotFound
	}

	key := CacheKey(viewerID)
	getCtx, endGet := tracing.StartCacheSpan(ctx, "GET", key)
	raw, err := c.client.Get(getCtx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		endGet(nil)
	} else {
		endGet(err)
	}
	tracing.SetAttributes(ctx, attribute.Bool("profile.cache_hit", err == nil))
	switch {
	case err == nil:
		var snap snapshot
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil && snap.ID == viewerID {
			return snap.viewer(), nil
		}
		c.logger.WarnContext(ctx, "discarding malformed cached profile",
			slog.String("viewer_id", viewerID))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WarnContext(ctx, "profile cache read failed, using store",
			slog.String("viewer_id", viewerID),
			slog.String("error", err.Error()))
	}

	v, err := c.next.FetchViewerProfile(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(toSnapshot(v))
	if err != nil {
		return v, nil
	}
	setCtx, endSet := tracing.StartCacheSpan(ctx, "SET", key)
	err = c.client.Set(setCtx, key, payload, c.ttl).Err()
	endSet(err)
	if err != nil {
		c.logger.WarnContext(ctx, "profile cache write failed",
			slog.String("viewer_id", viewerID),
			slog.String("error", err.Error()))
	}
	return v, nil
}

// Invalidate drops a viewer's cached snapshot, e.g. after a follow or save.
func (c *CachedStore) Invalidate(ctx context.Context, viewerID string) error {
	return c.client.Del(ctx, CacheKey(viewerID)).Err()
}
