package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	publishTaskTimeout = 30 * time.Minute
	emailTaskTimeout   = 30 * time.Second
	emailMaxRetry      = 5
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues background work onto asynq.
type Client struct {
	client enqueuer
	now    func() time.Time
	logger *zap.Logger
}

func NewClient(client enqueuer, logger *zap.Logger) *Client {
	return &Client{client: client, now: time.Now, logger: logger}
}

// EnqueuePublishRun schedules a publish run. At most one run task is queued or
// in progress at a time; a duplicate request is dropped without error.
func (c *Client) EnqueuePublishRun(ctx context.Context, trigger string) error {
	taskPayload, err := json.Marshal(PublishDuePostsPayload{Trigger: trigger, RequestedAt: c.now()})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishDuePosts, taskPayload)
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Unique(publishTaskTimeout),
		asynq.MaxRetry(0),
		asynq.Timeout(publishTaskTimeout),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.Info("publish run already queued", zap.String("trigger", trigger))
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info("publish run queued", zap.String("task_id", info.ID), zap.String("trigger", trigger))
	return nil
}

func (c *Client) EnqueueNotificationEmail(ctx context.Context, notificationID int64) error {
	taskPayload, err := json.Marshal(NotificationEmailPayload{NotificationID: notificationID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeNotificationEmail, taskPayload)
	_, err = c.client.EnqueueContext(ctx, task, asynq.MaxRetry(emailMaxRetry), asynq.Timeout(emailTaskTimeout))
	return err
}

// ScheduledPublish is the cron entry point for publish runs.
func (c *Client) ScheduledPublish() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.EnqueuePublishRun(ctx, "cron"); err != nil {
		c.logger.Error("unable to queue publish run", zap.Error(err))
	}
}
