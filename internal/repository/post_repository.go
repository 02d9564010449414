package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logging"
	"go.uber.org/zap"
)

// ErrNotFound is returned by updates that matched no row for the given id and owner.
var ErrNotFound = errors.New("record not found")

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	MarkPublished(ctx context.Context, postID, userID int64, platform models.Platform, platformPostID string, publishedAt time.Time) error
	RecordRetry(ctx context.Context, postID, userID int64, f models.PostFailure) error
	MarkFailed(ctx context.Context, postID, userID int64, f models.PostFailure) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, platform, status, content,
	COALESCE(media_url, ''), COALESCE(media_type, 'none'), COALESCE(thumbnail_url, ''),
	scheduled_for, published_at,
	COALESCE(twitter_post_id, ''), COALESCE(linkedin_post_id, ''), COALESCE(tiktok_post_id, ''),
	retry_count, last_retry_at, COALESCE(error_message, ''), error_details,
	created_at, updated_at`

// platformPostColumn whitelists the per-platform external id columns.
var platformPostColumn = map[models.Platform]string{
	models.PlatformTwitter:  "twitter_post_id",
	models.PlatformLinkedIn: "linkedin_post_id",
	models.PlatformTikTok:   "tiktok_post_id",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var details []byte
	err := row.Scan(&post.ID, &post.UserID, &post.Platform, &post.Status, &post.Content,
		&post.MediaURL, &post.MediaType, &post.ThumbnailURL,
		&post.ScheduledFor, &post.PublishedAt,
		&post.TwitterPostID, &post.LinkedInPostID, &post.TiktokPostID,
		&post.RetryCount, &post.LastRetryAt, &post.ErrorMessage, &details,
		&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		post.ErrorDetails = details
	}
	return &post, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logging.GetLogger().Info("get post failed", zap.Int64("post_id", id), zap.Error(err))
		return nil, err
	}
	return post, nil
}

// ListDue returns scheduled posts whose time has come, oldest first.
func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, now, limit)
	if err != nil {
		logging.GetLogger().Info("list due posts failed", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			logging.GetLogger().Info("scan due post failed", zap.Error(err))
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) MarkPublished(ctx context.Context, postID, userID int64, platform models.Platform, platformPostID string, publishedAt time.Time) error {
	column, ok := platformPostColumn[platform]
	if !ok {
		return fmt.Errorf("unknown platform %q", platform)
	}

	query := `
		UPDATE posts
		SET status = $1,
			published_at = $2,
			` + column + ` = $3,
			error_message = NULL,
			error_details = NULL,
			updated_at = $2
		WHERE id = $4 AND user_id = $5`

	return r.exec(ctx, query, models.PostStatusPublished, publishedAt, platformPostID, postID, userID)
}

// RecordRetry stores a transient failure without leaving the scheduled state.
func (r *postRepository) RecordRetry(ctx context.Context, postID, userID int64, f models.PostFailure) error {
	query := `
		UPDATE posts
		SET error_message = $1,
			error_details = $2,
			retry_count = $3,
			last_retry_at = $4,
			updated_at = $4
		WHERE id = $5 AND user_id = $6`

	return r.exec(ctx, query, f.Message, nullableJSON(f.Details), f.RetryCount, f.At, postID, userID)
}

func (r *postRepository) MarkFailed(ctx context.Context, postID, userID int64, f models.PostFailure) error {
	query := `
		UPDATE posts
		SET status = $1,
			error_message = $2,
			error_details = $3,
			retry_count = $4,
			last_retry_at = $5,
			published_at = NULL,
			updated_at = $5
		WHERE id = $6 AND user_id = $7`

	return r.exec(ctx, query, models.PostStatusFailed, f.Message, nullableJSON(f.Details), f.RetryCount, f.At, postID, userID)
}

func (r *postRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		logging.GetLogger().Info("post update failed", zap.Error(err))
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
