package service

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotify_StoresRow(t *testing.T) {
	notes := &fakeNotifications{}
	svc := NewNotificationService(config.Config{}, notes, nil, zap.NewNop())

	postID := int64(44)
	n, err := svc.Notify(context.Background(), 9, models.NotificationSuccess, "Post published", "Your post is live on TikTok", &postID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), n.ID)
	require.Len(t, notes.rows, 1)
	row := notes.rows[0]
	assert.Equal(t, int64(9), row.UserID)
	assert.Equal(t, models.NotificationSuccess, row.Type)
	assert.Equal(t, int64(44), *row.PostID)
	assert.False(t, row.Read)
	assert.False(t, row.CreatedAt.IsZero())
}

func TestNotify_QueuesEmailForProblems(t *testing.T) {
	notes := &fakeNotifications{}
	emails := &fakeEnqueuer{}
	svc := NewNotificationService(config.Config{EmailNotifications: true}, notes, emails, zap.NewNop())

	ctx := context.Background()
	for _, kind := range []models.NotificationType{models.NotificationSuccess, models.NotificationError, models.NotificationInfo, models.NotificationWarning} {
		_, err := svc.Notify(ctx, 9, kind, "t", "m", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{2, 4}, emails.ids)
}

func TestNotify_EmailDisabled(t *testing.T) {
	emails := &fakeEnqueuer{}
	svc := NewNotificationService(config.Config{EmailNotifications: false}, &fakeNotifications{}, emails, zap.NewNop())

	_, err := svc.Notify(context.Background(), 9, models.NotificationError, "t", "m", nil)
	require.NoError(t, err)
	assert.Empty(t, emails.ids)
}

func TestNotify_EnqueueFailureIsNotFatal(t *testing.T) {
	emails := &fakeEnqueuer{err: errors.New("redis unavailable")}
	svc := NewNotificationService(config.Config{EmailNotifications: true}, &fakeNotifications{}, emails, zap.NewNop())

	n, err := svc.Notify(context.Background(), 9, models.NotificationError, "t", "m", nil)
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestNotify_StoreFailure(t *testing.T) {
	svc := NewNotificationService(config.Config{}, &fakeNotifications{err: errors.New("insert failed")}, nil, zap.NewNop())

	_, err := svc.Notify(context.Background(), 9, models.NotificationError, "t", "m", nil)
	assert.ErrorContains(t, err, "insert failed")
}

type recordingMailer struct {
	to, subject, body string
	err               error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func TestSendNotificationEmail(t *testing.T) {
	notes := &fakeNotifications{}
	id, err := notes.Create(context.Background(), &models.Notification{UserID: 9, Type: models.NotificationError, Title: "Post failed", Message: "Twitter rejected the post"})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	users := fakeUsers{9: {ID: 9, Email: "ana@example.com"}}
	svc := NewEmailService(notes, users, mailer, zap.NewNop())

	require.NoError(t, svc.SendNotificationEmail(context.Background(), id))
	assert.Equal(t, "ana@example.com", mailer.to)
	assert.Equal(t, "Post failed", mailer.subject)
	assert.Equal(t, "Twitter rejected the post", mailer.body)
}

func TestSendNotificationEmail_MissingRowsAreDropped(t *testing.T) {
	notes := &fakeNotifications{}
	mailer := &recordingMailer{}
	svc := NewEmailService(notes, fakeUsers{}, mailer, zap.NewNop())

	require.NoError(t, svc.SendNotificationEmail(context.Background(), 404))

	id, _ := notes.Create(context.Background(), &models.Notification{UserID: 77, Type: models.NotificationWarning})
	require.NoError(t, svc.SendNotificationEmail(context.Background(), id))
	assert.Empty(t, mailer.to)
}

func TestSendNotificationEmail_MailerError(t *testing.T) {
	notes := &fakeNotifications{}
	id, _ := notes.Create(context.Background(), &models.Notification{UserID: 9, Type: models.NotificationError})
	svc := NewEmailService(notes, fakeUsers{9: {ID: 9, Email: "ana@example.com"}}, &recordingMailer{err: errors.New("421")}, zap.NewNop())

	assert.ErrorContains(t, svc.SendNotificationEmail(context.Background(), id), "421")
}

func TestSMTPMailer(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	m := NewSMTPMailer(config.SMTP{Host: "smtp.example.com", Port: 587, Username: "postflow", Password: "pw", From: "alerts@example.com"}).(*smtpMailer)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), "ana@example.com", "Reconnect\nLinkedIn", "line one\nline two"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Reconnect LinkedIn\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "line one\r\nline two\r\n"))
}

func TestSMTPMailer_NotConfigured(t *testing.T) {
	m := NewSMTPMailer(config.SMTP{})
	assert.ErrorIs(t, m.Send(context.Background(), "ana@example.com", "s", "b"), ErrMailerNotConfigured)
}

func TestBuildMessageHeaders(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := string(buildMessage("a@example.com", "b@example.com", "Hi", "Body", at))

	assert.Contains(t, msg, "From: a@example.com\r\n")
	assert.Contains(t, msg, "To: b@example.com\r\n")
	assert.Contains(t, msg, "Date: Sun, 01 Mar 2026 12:00:00 +0000\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\nBody\r\n")
}
