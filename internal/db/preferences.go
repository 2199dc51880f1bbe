package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// PreferenceRepository tracks how often each user posts each wish type, so
// the composer can open on the type a user picks most.
type PreferenceRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPreferenceRepository creates a PreferenceRepository.
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db, now: time.Now}
}

// RecordPostType counts one post of postType by userID.
func (r *PreferenceRepository) RecordPostType(ctx context.Context, userID, postType string) error {
	if userID == "" || postType == "" {
		return apperrors.New(apperrors.ErrInvalid, "user id and post type are required")
	}
	query := `INSERT INTO post_type_usage (user_id, post_type, count, last_used_at) VALUES (?, ?, 1, ?)
			  ON CONFLICT(user_id, post_type) DO UPDATE SET count = count + 1, last_used_at = excluded.last_used_at`
	if _, err := r.db.ExecContext(ctx, query, userID, postType, r.now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record post type", err)
	}
	return nil
}

// PreferredPostType returns the type userID posted most, the most recently
// used one on a tie. ok is false when the user has no posts yet.
func (r *PreferenceRepository) PreferredPostType(ctx context.Context, userID string) (postType string, ok bool, err error) {
	query := `SELECT post_type FROM post_type_usage WHERE user_id = ?
			  ORDER BY count DESC, last_used_at DESC, post_type ASC LIMIT 1`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&postType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read preferred post type", err)
	}
	return postType, true, nil
}

// PostTypeCounts returns the per-type post counts of userID.
func (r *PreferenceRepository) PostTypeCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT post_type, count FROM post_type_usage WHERE user_id = ?", userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list post type counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			postType string
			count    int
		)
		if err := rows.Scan(&postType, &count); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan post type count", err)
		}
		counts[postType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list post type counts", err)
	}
	return counts, nil
}
