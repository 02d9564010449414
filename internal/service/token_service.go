package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenExpiryMargin is how long before expiry a token is treated as expired.
const TokenExpiryMargin = 5 * time.Minute

var (
	ErrReauthRequired = errors.New("account must be reconnected")
	ErrRefreshFailed  = errors.New("token refresh failed")
)

// RefreshedToken is what a provider returns for a refresh grant. An empty
// RefreshToken means the provider did not rotate it.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type TokenRefresher interface {
	Platform() models.Platform
	Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error)
}

type TokenService interface {
	// EnsureValidToken makes acc usable for publishing, refreshing it in place
	// when it is inside the expiry margin.
	EnsureValidToken(ctx context.Context, acc *models.SocialAccount) error
	// Refresh renews acc ahead of expiry. Failures are returned but not
	// notified; the publish path reports them once the token is needed.
	Refresh(ctx context.Context, acc *models.SocialAccount) error
	AccessToken(acc *models.SocialAccount) (string, error)
}

type tokenService struct {
	sa         repository.SocialAccountRepository
	notifier   NotificationService
	cipher     *utils.TokenCipher
	refreshers map[models.Platform]TokenRefresher
	group      singleflight.Group
	now        func() time.Time
	logger     *zap.Logger
}

func NewTokenService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	notifier NotificationService,
	refreshers []TokenRefresher,
	logger *zap.Logger) TokenService {
	byPlatform := make(map[models.Platform]TokenRefresher, len(refreshers))
	for _, r := range refreshers {
		byPlatform[r.Platform()] = r
	}
	return &tokenService{
		sa:         sa,
		notifier:   notifier,
		cipher:     utils.NewTokenCipher(cfg.SecretKey),
		refreshers: byPlatform,
		now:        time.Now,
		logger:     logger,
	}
}

func (s *tokenService) AccessToken(acc *models.SocialAccount) (string, error) {
	token, err := s.cipher.Open(acc.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return token, nil
}

func (s *tokenService) EnsureValidToken(ctx context.Context, acc *models.SocialAccount) error {
	if acc.TokenExpiresAt.After(s.now().Add(TokenExpiryMargin)) {
		return nil
	}

	if acc.Platform == models.PlatformLinkedIn || acc.RefreshToken == "" {
		return s.requireReauth(ctx, acc)
	}
	return s.shared(ctx, acc, true)
}

// requireReauth deactivates an account whose token cannot be refreshed.
func (s *tokenService) requireReauth(ctx context.Context, acc *models.SocialAccount) error {
	log := s.logger.With(zap.Int64("account_id", acc.ID), zap.Int64("user_id", acc.UserID), zap.String("platform", string(acc.Platform)))

	if err := s.sa.Deactivate(ctx, acc.ID, acc.UserID); err != nil {
		log.Error("unable to deactivate account", zap.Error(err))
	} else {
		acc.IsActive = false
		metrics.AccountDeactivated(string(acc.Platform))
	}

	name := platformName(acc.Platform)
	title := fmt.Sprintf("Reconnect your %s account", name)
	message := fmt.Sprintf("Your %s connection has expired and cannot be renewed automatically. Reconnect the account to keep publishing scheduled posts.", name)
	if _, err := s.notifier.Notify(ctx, acc.UserID, models.NotificationWarning, title, message, nil); err != nil {
		log.Error("unable to notify about expired account", zap.Error(err))
	}

	log.Warn("token expired, account deactivated")
	return fmt.Errorf("%w: %s token expired", ErrReauthRequired, acc.Platform)
}

func (s *tokenService) Refresh(ctx context.Context, acc *models.SocialAccount) error {
	return s.shared(ctx, acc, false)
}

// shared exchanges the account's refresh token. Concurrent refreshes of the
// same account share one provider call. On success acc carries the new tokens.
func (s *tokenService) shared(ctx context.Context, acc *models.SocialAccount, notify bool) error {
	v, err, _ := s.group.Do(strconv.FormatInt(acc.ID, 10), func() (any, error) {
		return s.refresh(ctx, acc, notify)
	})
	if err != nil {
		return err
	}

	updated := v.(*models.SocialAccount)
	acc.AccessToken = updated.AccessToken
	acc.RefreshToken = updated.RefreshToken
	acc.TokenExpiresAt = updated.TokenExpiresAt
	return nil
}

func (s *tokenService) refresh(ctx context.Context, acc *models.SocialAccount, notify bool) (*models.SocialAccount, error) {
	log := s.logger.With(zap.Int64("account_id", acc.ID), zap.Int64("user_id", acc.UserID), zap.String("platform", string(acc.Platform)))

	updated, err := s.exchange(ctx, acc)
	if err != nil {
		metrics.TokenRefresh(string(acc.Platform), "failed")
		log.Error("token refresh failed", zap.Error(err))
		if !notify {
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		name := platformName(acc.Platform)
		title := fmt.Sprintf("Couldn't refresh your %s connection", name)
		message := fmt.Sprintf("We could not renew access to your %s account. Scheduled posts for it will be retried on the next run.", name)
		if _, nerr := s.notifier.Notify(ctx, acc.UserID, models.NotificationError, title, message, nil); nerr != nil {
			log.Error("unable to notify about refresh failure", zap.Error(nerr))
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	metrics.TokenRefresh(string(acc.Platform), "ok")
	log.Info("token refreshed", zap.Time("expires_at", updated.TokenExpiresAt))
	return updated, nil
}

func (s *tokenService) exchange(ctx context.Context, acc *models.SocialAccount) (*models.SocialAccount, error) {
	refresher, ok := s.refreshers[acc.Platform]
	if !ok {
		return nil, fmt.Errorf("no token refresher for %s", acc.Platform)
	}

	refreshToken, err := s.cipher.Open(acc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	token, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	sealedAccess, err := s.cipher.Seal(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	sealedRefresh, err := s.cipher.Seal(token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	if err := s.sa.SetToken(ctx, acc.ID, acc.UserID, sealedAccess, sealedRefresh, token.ExpiresAt); err != nil {
		return nil, fmt.Errorf("store refreshed token: %w", err)
	}

	updated := *acc
	updated.AccessToken = sealedAccess
	if sealedRefresh != "" {
		updated.RefreshToken = sealedRefresh
	}
	updated.TokenExpiresAt = token.ExpiresAt
	return &updated, nil
}

func platformName(p models.Platform) string {
	switch p {
	case models.PlatformTwitter:
		return "Twitter/X"
	case models.PlatformLinkedIn:
		return "LinkedIn"
	case models.PlatformTikTok:
		return "TikTok"
	}
	return string(p)
}
