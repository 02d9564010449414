package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"golang.org/x/oauth2"
)

const twitterTokenURL = "https://api.twitter.com/2/oauth2/token"

// Twitter access tokens live two hours; used when the response omits expires_in.
const twitterDefaultTokenLifetime = 2 * time.Hour

type twitterRefresher struct {
	cfg      config.Config
	client   *http.Client
	tokenURL string
}

func NewTwitterRefresher(cfg config.Config, client *http.Client) TokenRefresher {
	return &twitterRefresher{cfg: cfg, client: client, tokenURL: twitterTokenURL}
}

func (r *twitterRefresher) Platform() models.Platform { return models.PlatformTwitter }

func (r *twitterRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	if err := r.cfg.RequirePlatform(string(models.PlatformTwitter)); err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     r.cfg.TwitterClientID,
		ClientSecret: r.cfg.TwitterClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  r.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, errors.New("twitter returned an empty access token")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(twitterDefaultTokenLifetime)
	}

	refreshed := &RefreshedToken{AccessToken: token.AccessToken, ExpiresAt: expiresAt}
	if token.RefreshToken != refreshToken {
		refreshed.RefreshToken = token.RefreshToken
	}
	return refreshed, nil
}
