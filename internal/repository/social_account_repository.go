package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/logging"
	"go.uber.org/zap"
)

type SocialAccountRepository interface {
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	GetActiveByUserAndPlatform(ctx context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error)
	ListExpiring(ctx context.Context, after, before time.Time, limit int) ([]*models.SocialAccount, error)
	SetToken(ctx context.Context, id, userID int64, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id, userID int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const socialAccountColumns = `id, user_id, platform, account_id,
	COALESCE(account_name, ''), COALESCE(account_username, ''),
	access_token, COALESCE(refresh_token, ''), token_expires_at, is_active,
	created_at, updated_at`

func scanSocialAccount(row rowScanner) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID,
		&sa.AccountName, &sa.AccountUsername,
		&sa.AccessToken, &sa.RefreshToken, &sa.TokenExpiresAt, &sa.IsActive,
		&sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE id = $1`

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logging.GetLogger().Info("get social account failed", zap.Int64("account_id", id), zap.Error(err))
		return nil, err
	}
	return sa, nil
}

// GetActiveByUserAndPlatform picks the most recently updated active account; older rows may linger.
func (r *socialAccountRepository) GetActiveByUserAndPlatform(ctx context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND platform = $2 AND is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logging.GetLogger().Info("get active social account failed",
			zap.Int64("user_id", userID), zap.String("platform", string(platform)), zap.Error(err))
		return nil, err
	}
	return sa, nil
}

// ListExpiring returns active accounts whose token expires between after and before.
func (r *socialAccountRepository) ListExpiring(ctx context.Context, after, before time.Time, limit int) ([]*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + `
		FROM social_accounts
		WHERE is_active = TRUE AND token_expires_at > $1 AND token_expires_at < $2
		ORDER BY token_expires_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, after, before, limit)
	if err != nil {
		logging.GetLogger().Info("list expiring accounts failed", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			logging.GetLogger().Info("scan social account failed", zap.Error(err))
			return nil, err
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SetToken stores refreshed credentials. An empty refresh token keeps the stored one.
func (r *socialAccountRepository) SetToken(ctx context.Context, id, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_accounts
		SET
			access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_expires_at = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4 AND user_id = $5`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id, userID)
	if err != nil {
		logging.GetLogger().Info("set token failed", zap.Int64("account_id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}

func (r *socialAccountRepository) Deactivate(ctx context.Context, id, userID int64) error {
	query := `
		UPDATE social_accounts
		SET is_active = FALSE,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		logging.GetLogger().Info("deactivate account failed", zap.Int64("account_id", id), zap.Error(err))
		return err
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrNotFound
	}
	return nil
}
