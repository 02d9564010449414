package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const tiktokTokenURL = "https://open.tiktokapis.com/v2/oauth/token/"

type tiktokRefresher struct {
	cfg      config.Config
	client   *http.Client
	tokenURL string
}

func NewTiktokRefresher(cfg config.Config, client *http.Client) TokenRefresher {
	return &tiktokRefresher{cfg: cfg, client: client, tokenURL: tiktokTokenURL}
}

func (r *tiktokRefresher) Platform() models.Platform { return models.PlatformTikTok }

func (r *tiktokRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	if err := r.cfg.RequirePlatform(string(models.PlatformTikTok)); err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("client_key", r.cfg.TiktokClientKey)
	data.Set("client_secret", r.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("decode tiktok token response: %w", err)
	}
	if tokenResponse.Error != "" {
		return nil, fmt.Errorf("tiktok token error %s: %s", tokenResponse.Error, tokenResponse.ErrorDescription)
	}
	if tokenResponse.AccessToken == "" {
		return nil, fmt.Errorf("tiktok returned an empty access token")
	}

	return &RefreshedToken{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}
