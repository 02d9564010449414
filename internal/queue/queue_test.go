package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type fakeRunner struct {
	triggers []string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, trigger string) (*job.RunReport, error) {
	f.triggers = append(f.triggers, trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &job.RunReport{RunID: "run-1", Trigger: trigger}, nil
}

type fakeEmails struct {
	ids []int64
	err error
}

func (f *fakeEmails) SendNotificationEmail(_ context.Context, id int64) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestClient_EnqueuePublishRun(t *testing.T) {
	enq := &fakeEnqueuer{}
	c := NewClient(enq, zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, c.EnqueuePublishRun(context.Background(), "cron"))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypePublishDuePosts, enq.tasks[0].Type())
	assert.Len(t, enq.opts[0], 3)

	var payload PublishDuePostsPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, "cron", payload.Trigger)
	assert.True(t, payload.RequestedAt.Equal(c.now()))
}

func TestClient_DuplicatePublishRunIsDropped(t *testing.T) {
	c := NewClient(&fakeEnqueuer{err: asynq.ErrDuplicateTask}, zap.NewNop())
	assert.NoError(t, c.EnqueuePublishRun(context.Background(), "cron"))

	c = NewClient(&fakeEnqueuer{err: errors.New("redis: connection refused")}, zap.NewNop())
	assert.Error(t, c.EnqueuePublishRun(context.Background(), "cron"))
}

func TestClient_EnqueueNotificationEmail(t *testing.T) {
	enq := &fakeEnqueuer{}
	require.NoError(t, NewClient(enq, zap.NewNop()).EnqueueNotificationEmail(context.Background(), 42))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskTypeNotificationEmail, enq.tasks[0].Type())
	assert.JSONEq(t, `{"notification_id":42}`, string(enq.tasks[0].Payload()))
}

func TestHandlePublishDuePostsTask(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner, &fakeEmails{}, zap.NewNop())

	err := q.HandlePublishDuePostsTask(context.Background(), asynq.NewTask(TaskTypePublishDuePosts, []byte(`{"trigger":"cron"}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"cron"}, runner.triggers)

	err = q.HandlePublishDuePostsTask(context.Background(), asynq.NewTask(TaskTypePublishDuePosts, []byte(`not json`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	runner.err = errors.New("list due posts: timeout")
	err = q.HandlePublishDuePostsTask(context.Background(), asynq.NewTask(TaskTypePublishDuePosts, []byte(`{}`)))
	assert.Error(t, err)
	assert.Equal(t, "queue", runner.triggers[len(runner.triggers)-1])
}

func TestHandleNotificationEmailTask(t *testing.T) {
	emails := &fakeEmails{}
	q := NewQueue(&fakeRunner{}, emails, zap.NewNop())

	require.NoError(t, q.HandleNotificationEmailTask(context.Background(), asynq.NewTask(TaskTypeNotificationEmail, []byte(`{"notification_id":7}`))))
	assert.Equal(t, []int64{7}, emails.ids)

	err := q.HandleNotificationEmailTask(context.Background(), asynq.NewTask(TaskTypeNotificationEmail, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRegister(t *testing.T) {
	runner := &fakeRunner{}
	q := NewQueue(runner, &fakeEmails{}, zap.NewNop())

	mux := asynq.NewServeMux()
	q.Register(mux)

	err := mux.ProcessTask(context.Background(), asynq.NewTask(TaskTypePublishDuePosts, []byte(`{"trigger":"cron"}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"cron"}, runner.triggers)
}
