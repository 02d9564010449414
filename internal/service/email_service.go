package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/repository"
	"go.uber.org/zap"
)

var ErrMailerNotConfigured = errors.New("smtp is not configured")

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type EmailService interface {
	SendNotificationEmail(ctx context.Context, notificationID int64) error
}

type emailService struct {
	nr     repository.NotificationRepository
	ur     repository.UserRepository
	mailer Mailer
	logger *zap.Logger
}

func NewEmailService(nr repository.NotificationRepository, ur repository.UserRepository, mailer Mailer, logger *zap.Logger) EmailService {
	return &emailService{
		nr:     nr,
		ur:     ur,
		mailer: mailer,
		logger: logger,
	}
}

// SendNotificationEmail mails a stored notification to its owner. Missing rows
// are logged and dropped so the task is not retried forever.
func (s *emailService) SendNotificationEmail(ctx context.Context, notificationID int64) error {
	n, err := s.nr.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	if n == nil {
		s.logger.Info("notification no longer exists", zap.Int64("notification_id", notificationID))
		return nil
	}

	user, err := s.ur.GetByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user == nil || user.Email == "" {
		s.logger.Info("no email address for notification", zap.Int64("notification_id", notificationID), zap.Int64("user_id", n.UserID))
		return nil
	}

	if err := s.mailer.Send(ctx, user.Email, n.Title, n.Message); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	s.logger.Info("notification email sent", zap.Int64("notification_id", notificationID), zap.Int64("user_id", n.UserID))
	return nil
}

type smtpMailer struct {
	cfg  config.SMTP
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.SMTP) Mailer {
	return &smtpMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, body string) error {
	if m.cfg.Host == "" || m.cfg.From == "" {
		return ErrMailerNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	return m.send(addr, auth, m.cfg.From, []string{to}, buildMessage(m.cfg.From, to, subject, body, time.Now()))
}

func buildMessage(from, to, subject, body string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + strings.NewReplacer("\r", " ", "\n", " ").Replace(subject) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
