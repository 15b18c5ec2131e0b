package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/feedrank/internal/content"
	"github.com/onnwee/feedrank/internal/middleware"
	"github.com/onnwee/feedrank/internal/ranking"
)

// Page size defaults applied when FeedConfig leaves them unset.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FeedRanker produces a ranked page for a request.
// *ranking.Engine implements it.
type FeedRanker interface {
	Rank(ctx context.Context, req ranking.Request) (*ranking.Result, error)
}

// FeedConfig configures the feed handler.
type FeedConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FeedHandlers serves the ranked feed.
type FeedHandlers struct {
	ranker          FeedRanker
	defaultPageSize int
	maxPageSize     int
}

// NewFeedHandlers creates the feed handler.
func NewFeedHandlers(ranker FeedRanker, cfg FeedConfig) *FeedHandlers {
	h := &FeedHandlers{
		ranker:          ranker,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
	if h.maxPageSize <= 0 {
		h.maxPageSize = MaxPageSize
	}
	if h.defaultPageSize <= 0 {
		h.defaultPageSize = DefaultPageSize
	}
	if h.defaultPageSize > h.maxPageSize {
		h.defaultPageSize = h.maxPageSize
	}
	return h
}

// FeedItem is one ranked item in the feed response.
type FeedItem struct {
	ID                string             `json:"id"`
	AuthorID          string             `json:"author_id"`
	Title             string             `json:"title,omitempty"`
	Body              string             `json:"body,omitempty"`
	Visibility        content.Visibility `json:"visibility"`
	Tags              []string           `json:"tags"`
	Engagement        content.Engagement `json:"engagement"`
	CreatedAt         time.Time          `json:"created_at"`
	Score             float64            `json:"score"`
	Reasons           []string           `json:"reasons"`
	IsFollowingAuthor bool               `json:"is_following_author"`
}

// FeedResponse is the body of GET /feed.
type FeedResponse struct {
	Items          []FeedItem `json:"items"`
	Page           int        `json:"page"`
	PageSize       int        `json:"page_size"`
	HasMore        bool       `json:"has_more"`
	Strategy       string     `json:"strategy"`
	Degraded       bool       `json:"degraded"`
	FallbackReason string     `json:"fallback_reason,omitempty"`
}

// GetFeed handles GET /feed?page=1&page_size=20.
//
// The viewer comes from the auth middleware; requests without a token get
// the unpersonalized public feed. page and page_size must be positive
// integers; page_size is clamped to the configured maximum.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	query := r.URL.Query()
	page, ok := positiveParam(query.Get("page"), 1)
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid page parameter")
		return
	}
	pageSize, ok := positiveParam(query.Get("page_size"), h.defaultPageSize)
	if !ok {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid page_size parameter")
		return
	}
	if pageSize > h.maxPageSize {
		pageSize = h.maxPageSize
	}

	viewerID := middleware.GetViewerID(r.Context())
	result, err := h.ranker.Rank(r.Context(), ranking.Request{
		ViewerID: viewerID,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, ranking.ErrInvalidPagination):
			WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "Invalid pagination parameters")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			slog.WarnContext(r.Context(), "feed request aborted", "error", err, "viewer_id", viewerID)
			WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeUnavailable, "Feed request timed out")
		default:
			slog.ErrorContext(r.Context(), "failed to rank feed", "error", err, "viewer_id", viewerID)
			WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to rank feed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(newFeedResponse(result)); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// positiveParam parses an optional positive integer query value.
func positiveParam(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func newFeedResponse(res *ranking.Result) FeedResponse {
	items := make([]FeedItem, 0, len(res.Items))
	for _, ri := range res.Items {
		tags := ri.Item.Tags
		if tags == nil {
			tags = []string{}
		}
		reasons := ri.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		items = append(items, FeedItem{
			ID:                ri.Item.ID,
			AuthorID:          ri.Item.AuthorID,
			Title:             ri.Item.Title,
			Body:              ri.Item.Body,
			Visibility:        ri.Item.Visibility,
			Tags:              tags,
			Engagement:        ri.Item.Engagement,
			CreatedAt:         ri.Item.CreatedAt,
			Score:             ri.Score,
			Reasons:           reasons,
			IsFollowingAuthor: ri.FollowingAuthor,
		})
	}
	return FeedResponse{
		Items:          items,
		Page:           res.Page.Page,
		PageSize:       res.PageSize,
		HasMore:        res.HasMore,
		Strategy:       res.Strategy,
		Degraded:       res.Degraded,
		FallbackReason: string(res.FallbackReason),
	}
}
