package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logging"
	"go.uber.org/zap"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) (int64, error) {
	query := `
		INSERT INTO notifications (user_id, type, title, message, post_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query, n.UserID, n.Type, n.Title, n.Message, n.PostID, n.CreatedAt).Scan(&id)
	if err != nil {
		logging.GetLogger().Info("insert notification failed", zap.Int64("user_id", n.UserID), zap.Error(err))
		return 0, err
	}
	return id, nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id int64) (*models.Notification, error) {
	query := `SELECT id, user_id, type, title, message, post_id, read, created_at FROM notifications WHERE id = $1`

	var n models.Notification
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.PostID, &n.Read, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logging.GetLogger().Info("get notification failed", zap.Int64("notification_id", id), zap.Error(err))
		return nil, err
	}
	return &n, nil
}
