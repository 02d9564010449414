package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func (q *Queue) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishDuePosts, q.HandlePublishDuePostsTask)
	mux.HandleFunc(TaskTypeNotificationEmail, q.HandleNotificationEmailTask)
}

func (q *Queue) HandlePublishDuePostsTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishDuePostsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if payload.Trigger == "" {
		payload.Trigger = "queue"
	}

	report, err := q.runner.Run(ctx, payload.Trigger)
	if err != nil {
		return err
	}

	q.logger.Info("queued publish run done",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.TotalPostsProcessed),
		zap.Int("published", report.Published),
		zap.Int("failed", report.Failed),
	)
	return nil
}

func (q *Queue) HandleNotificationEmailTask(ctx context.Context, task *asynq.Task) error {
	var payload NotificationEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	if payload.NotificationID <= 0 {
		return fmt.Errorf("notification id missing: %w", asynq.SkipRetry)
	}

	return q.emails.SendNotificationEmail(ctx, payload.NotificationID)
}
