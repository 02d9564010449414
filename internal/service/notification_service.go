package service

import (
	"context"
	"fmt"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

// EmailEnqueuer schedules delivery of a stored notification by email.
type EmailEnqueuer interface {
	EnqueueNotificationEmail(ctx context.Context, notificationID int64) error
}

type NotificationService interface {
	Notify(ctx context.Context, userID int64, kind models.NotificationType, title, message string, postID *int64) (*models.Notification, error)
}

type notificationService struct {
	nr       repository.NotificationRepository
	emails   EmailEnqueuer
	sendMail bool
	now      func() time.Time
	logger   *zap.Logger
}

// NewNotificationService stores in-app notifications. Error and warning
// notifications are also queued for email when EMAIL_NOTIFICATIONS_ENABLED is
// set and emails is non-nil.
func NewNotificationService(cfg config.Config, nr repository.NotificationRepository, emails EmailEnqueuer, logger *zap.Logger) NotificationService {
	return &notificationService{
		nr:       nr,
		emails:   emails,
		sendMail: cfg.EmailNotifications && emails != nil,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *notificationService) Notify(ctx context.Context, userID int64, kind models.NotificationType, title, message string, postID *int64) (*models.Notification, error) {
	n := &models.Notification{
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Message:   message,
		PostID:    postID,
		CreatedAt: s.now(),
	}

	id, err := s.nr.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	n.ID = id
	metrics.NotificationCreated(string(kind))

	if s.sendMail && (kind == models.NotificationError || kind == models.NotificationWarning) {
		if err := s.emails.EnqueueNotificationEmail(ctx, id); err != nil {
			s.logger.Warn("unable to queue notification email",
				zap.Int64("notification_id", id),
				zap.Int64("user_id", userID),
				zap.Error(err),
			)
		}
	}
	return n, nil
}
