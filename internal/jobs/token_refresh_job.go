package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"go.uber.org/zap"
)

const (
	refreshWindow      = 30 * time.Minute
	refreshBatchSize   = 200
	refreshConcurrency = 10
)

// TokenRefreshJob renews tokens shortly before they expire so publish runs
// rarely have to refresh inline.
type TokenRefreshJob struct {
	sr     repository.SocialAccountRepository
	tokens service.TokenService
	now    func() time.Time
	logger *zap.Logger
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, tokens service.TokenService, logger *zap.Logger) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:     sr,
		tokens: tokens,
		now:    time.Now,
		logger: logger,
	}
}

// RefreshTokens is the cron entry point.
func (c *TokenRefreshJob) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, _, err := c.Run(ctx); err != nil {
		c.logger.Error("token refresh run failed", zap.Error(err))
	}
}

// Run refreshes every active account whose token expires within the next 30
// minutes. Tokens that have already expired, and accounts that cannot be
// refreshed (LinkedIn, or no refresh token), are left for the publish path.
func (c *TokenRefreshJob) Run(ctx context.Context) (refreshed, failed int, err error) {
	now := c.now()
	accounts, err := c.sr.ListExpiring(ctx, now, now.Add(refreshWindow), refreshBatchSize)
	if err != nil {
		return 0, 0, err
	}

	var ok, bad atomic.Int64
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, refreshConcurrency)

	for _, acc := range accounts {
		if !refreshable(acc) {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.tokens.Refresh(ctx, acc); err != nil {
				bad.Add(1)
				c.logger.Warn("unable to refresh token",
					zap.Int64("account_id", acc.ID),
					zap.String("platform", string(acc.Platform)),
					zap.Error(err),
				)
				return
			}
			ok.Add(1)
		}(acc)
	}
	wg.Wait()

	c.logger.Info("token refresh run finished",
		zap.Int("candidates", len(accounts)),
		zap.Int64("refreshed", ok.Load()),
		zap.Int64("failed", bad.Load()),
	)
	return int(ok.Load()), int(bad.Load()), nil
}

func refreshable(acc *models.SocialAccount) bool {
	return acc.Platform != models.PlatformLinkedIn && acc.RefreshToken != ""
}
