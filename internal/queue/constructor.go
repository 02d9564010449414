package queue

import (
	"context"
	"time"

	job "github.com/maheshrc27/postflow/internal/jobs"
	"go.uber.org/zap"
)

const (
	TaskTypePublishDuePosts   = "publish:due_posts"
	TaskTypeNotificationEmail = "notification:email"
)

type PublishDuePostsPayload struct {
	Trigger     string    `json:"trigger"`
	RequestedAt time.Time `json:"requested_at"`
}

type NotificationEmailPayload struct {
	NotificationID int64 `json:"notification_id"`
}

type PublishRunner interface {
	Run(ctx context.Context, trigger string) (*job.RunReport, error)
}

type EmailSender interface {
	SendNotificationEmail(ctx context.Context, notificationID int64) error
}

// Queue holds what the task handlers need.
type Queue struct {
	runner PublishRunner
	emails EmailSender
	logger *zap.Logger
}

func NewQueue(runner PublishRunner, emails EmailSender, logger *zap.Logger) *Queue {
	return &Queue{
		runner: runner,
		emails: emails,
		logger: logger,
	}
}
