package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/feedrank/internal/tracing"
)

// PostgresStore implements Store on the users, follows and saved_items tables.
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

// FetchViewerProfile implements Store. The three reads share one read-only
// transaction so the snapshot is consistent.
func (s *PostgresStore) FetchViewerProfile(ctx context.Context, viewerID string) (v *Viewer, err error) {
	if viewerID == "" {
		return nil, ErrViewerNotFound
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() {
		if errors.Is(err, ErrViewerNotFound) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin profile snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var skills, expertise pq.StringArray
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(skills, '{}'), COALESCE(expertise_topics, '{}')
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, viewerID).Scan(&skills, &expertise)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrViewerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer: %w", err)
	}

	followed, err := queryIDs(ctx, tx, `SELECT followee_id FROM follows WHERE follower_id = $1`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load follows: %w", err)
	}
	saved, err := queryIDs(ctx, tx, `SELECT item_id FROM saved_items WHERE user_id = $1`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved items: %w", err)
	}

	v = NewViewer(viewerID, followed, DeriveInterests(skills, expertise), saved)
	s.logger.DebugContext(ctx, "loaded viewer profile",
		slog.String("viewer_id", viewerID),
		slog.Int("followed", len(v.FollowedAuthors)),
		slog.Int("interests", len(v.TopicInterests)),
		slog.Int("saved", len(v.SavedItems)))
	return v, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query, viewerID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts a user row. Used by seeding tools and integration tests.
func (s *PostgresStore) CreateUser(ctx context.Context, id, displayName string, skills, expertise []string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, skills, expertise_topics)
		VALUES ($1, $2, $3, $4)
	`, id, displayName, pq.Array(skills), pq.Array(expertise))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Follow records a follow edge. Duplicate edges are ignored.
func (s *PostgresStore) Follow(ctx context.Context, followerID, followeeID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// Save records a saved item. Duplicate saves are ignored.
func (s *PostgresStore) Save(ctx context.Context, userID, itemID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "saved_items", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_items (user_id, item_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, itemID)
	if err != nil {
		return fmt.Errorf("failed to insert saved item: %w", err)
	}
	return nil
}
