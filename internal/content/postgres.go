package content

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/feedrank/internal/tracing"
)

// PostgresStore implements Store on the content_items table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const selectItemColumns = `
	SELECT id, author_id, title, body, visibility, moderation_state,
	       COALESCE(like_count, 0), COALESCE(comment_count, 0),
	       COALESCE(save_count, 0), COALESCE(view_count, 0),
	       COALESCE(tags, '{}'), created_at
	FROM content_items`

// FetchRecentVisibleApproved implements Store. The filter is rendered into the
// WHERE clause so visibility and moderation are decided by the same statement
// that reads the rows.
func (s *PostgresStore) FetchRecentVisibleApproved(ctx context.Context, filter Filter, limit int) (items []Item, err error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	where, args := filterClause(filter, 1)
	args = append(args, limit)
	query := selectItemColumns + `
	WHERE deleted_at IS NULL AND ` + where + `
	ORDER BY created_at DESC, id ASC
	LIMIT $` + fmt.Sprint(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	items = make([]Item, 0, limit)
	for rows.Next() {
		var (
			it         Item
			visibility sql.NullString
			moderation sql.NullString
			title      sql.NullString
			body       sql.NullString
			tags       pq.StringArray
		)
		if err := rows.Scan(
			&it.ID,
			&it.AuthorID,
			&title,
			&body,
			&visibility,
			&moderation,
			&it.Engagement.Likes,
			&it.Engagement.Comments,
			&it.Engagement.Saves,
			&it.Engagement.Views,
			&tags,
			&it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		it.Title = title.String
		it.Body = body.String
		it.Visibility = Visibility(visibility.String)
		it.Moderation = ModerationState(moderation.String)
		it.Tags = []string(tags)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}

	s.logger.DebugContext(ctx, "fetched ranking candidates",
		slog.String("viewer_id", filter.ViewerID()),
		slog.Int("count", len(items)),
		slog.Int("limit", limit))

	return items, nil
}

// Insert stores a new item. Used by seeding tools and integration tests.
func (s *PostgresStore) Insert(ctx context.Context, item Item) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO content_items (
			id, author_id, title, body, visibility, moderation_state,
			like_count, comment_count, save_count, view_count, tags, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID,
		item.AuthorID,
		item.Title,
		item.Body,
		string(item.Visibility),
		string(item.Moderation),
		item.Engagement.Likes,
		item.Engagement.Comments,
		item.Engagement.Saves,
		item.Engagement.Views,
		pq.Array(item.Tags),
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert content item: %w", err)
	}
	return nil
}

// filterClause renders a Filter as a parenthesised SQL predicate using
// placeholders starting at $start. It mirrors Filter.Allows exactly.
func filterClause(f Filter, start int) (string, []any) {
	var (
		args     []any
		audience []string
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", start+len(args)-1)
	}

	viewer := ""
	if f.viewerID != "" {
		viewer = next(f.viewerID)
	}

	for _, rule := range f.rules {
		switch rule {
		case AllowPublic:
			audience = append(audience, "visibility = 'public'")
		case AllowOwnPrivate:
			if viewer != "" {
				audience = append(audience, "(visibility = 'private' AND author_id = "+viewer+")")
			}
		case AllowFollowers:
			var who []string
			if viewer != "" {
				who = append(who, "author_id = "+viewer)
			}
			if followed := f.FollowedAuthors(); len(followed) > 0 {
				who = append(who, "author_id = ANY("+next(pq.Array(followed))+")")
			}
			if len(who) > 0 {
				audience = append(audience, "(visibility = 'followers' AND ("+strings.Join(who, " OR ")+"))")
			}
		}
	}
	if len(audience) == 0 {
		return "FALSE", args
	}

	moderation := "moderation_state = 'approved'"
	if viewer != "" {
		moderation = "(moderation_state = 'approved' OR author_id = " + viewer + ")"
	}

	return "(" + strings.Join(audience, " OR ") + ") AND " + moderation, args
}
