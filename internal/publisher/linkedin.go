package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
)

const linkedInRestliVersion = "2.0.0"

type LinkedIn struct {
	BaseURL string

	cfg     config.Config
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewLinkedIn(cfg config.Config, client *http.Client, logger *zap.Logger) *LinkedIn {
	return &LinkedIn{
		BaseURL: "https://api.linkedin.com",
		cfg:     cfg,
		client:  client,
		logger:  logger.With(zap.String("platform", string(models.PlatformLinkedIn))),
		timeout: 30 * time.Second,
	}
}

func (l *LinkedIn) Platform() models.Platform { return models.PlatformLinkedIn }

func (l *LinkedIn) Timeout() time.Duration { return l.timeout }

func (l *LinkedIn) Publish(ctx context.Context, req Request) (*Result, error) {
	if err := l.cfg.RequirePlatform(string(models.PlatformLinkedIn)); err != nil {
		return nil, err
	}
	if req.Account.AccountID == "" {
		return nil, &InputError{Platform: models.PlatformLinkedIn, Reason: "account has no member id"}
	}
	author := "urn:li:person:" + req.Account.AccountID

	content := transfer.LinkedInShareContent{
		ShareCommentary:    transfer.LinkedInText{Text: req.Post.Content},
		ShareMediaCategory: "NONE",
	}

	if req.Media != nil {
		category, recipe, err := linkedInMediaCategory(req.Media.Kind)
		if err != nil {
			return nil, err
		}
		asset, err := l.uploadAsset(ctx, req, author, recipe)
		if err != nil {
			return nil, fmt.Errorf("upload media: %w", err)
		}
		content.ShareMediaCategory = category
		content.Media = []transfer.LinkedInMedia{{Status: "READY", Media: asset}}
	}

	post := transfer.LinkedInUGCPost{
		Author:          author,
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]transfer.LinkedInShareContent{transfer.LinkedInShareContentKey: content},
		Visibility:      map[string]string{transfer.LinkedInVisibilityKey: "PUBLIC"},
	}
	payload, err := json.Marshal(post)
	if err != nil {
		return nil, err
	}

	header, body, err := send(ctx, l.client, models.PlatformLinkedIn, call{
		method:      http.MethodPost,
		url:         l.BaseURL + "/v2/ugcPosts",
		token:       req.AccessToken,
		body:        bytes.NewReader(payload),
		contentType: "application/json",
		headers:     map[string]string{"X-Restli-Protocol-Version": linkedInRestliVersion},
	})
	if err != nil {
		return nil, err
	}

	if id := header.Get("X-RestLi-Id"); id != "" {
		return &Result{PlatformPostID: id}, nil
	}

	var resp transfer.LinkedInUGCResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode ugc response: %w", err)
		}
	}
	if resp.ID == "" {
		return nil, errors.New("linkedin response has no post id")
	}
	return &Result{PlatformPostID: resp.ID}, nil
}

func linkedInMediaCategory(kind models.MediaKind) (category, recipe string, err error) {
	switch kind {
	case models.MediaImage:
		return "IMAGE", "urn:li:digitalmediaRecipe:feedshare-image", nil
	case models.MediaVideo:
		return "VIDEO", "urn:li:digitalmediaRecipe:feedshare-video", nil
	}
	return "", "", &InputError{Platform: models.PlatformLinkedIn, Reason: fmt.Sprintf("unsupported media kind %q", kind)}
}

// uploadAsset registers an upload for the member, sends the bytes and returns the asset URN.
func (l *LinkedIn) uploadAsset(ctx context.Context, req Request, owner, recipe string) (string, error) {
	register := transfer.LinkedInRegisterUploadRequest{
		RegisterUploadRequest: transfer.LinkedInRegisterUpload{
			Recipes: []string{recipe},
			Owner:   owner,
			ServiceRelationships: []transfer.LinkedInServiceRelationship{
				{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"},
			},
		},
	}
	payload, err := json.Marshal(register)
	if err != nil {
		return "", err
	}

	_, body, err := send(ctx, l.client, models.PlatformLinkedIn, call{
		method:      http.MethodPost,
		url:         l.BaseURL + "/v2/assets?action=registerUpload",
		token:       req.AccessToken,
		body:        bytes.NewReader(payload),
		contentType: "application/json",
		headers:     map[string]string{"X-Restli-Protocol-Version": linkedInRestliVersion},
	})
	if err != nil {
		return "", fmt.Errorf("register upload: %w", err)
	}

	var resp transfer.LinkedInRegisterUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode register upload: %w", err)
	}
	upload, ok := resp.Value.UploadMechanism[transfer.LinkedInUploadKey]
	if !ok || upload.UploadURL == "" || resp.Value.Asset == "" {
		return "", errors.New("register upload response has no upload url or asset")
	}

	if _, _, err := send(ctx, l.client, models.PlatformLinkedIn, call{
		method:      http.MethodPut,
		url:         upload.UploadURL,
		token:       req.AccessToken,
		body:        bytes.NewReader(req.Media.Data),
		contentType: req.Media.MIME,
		headers:     upload.Headers,
	}); err != nil {
		return "", fmt.Errorf("upload binary: %w", err)
	}

	l.logger.Debug("linkedin asset uploaded", zap.Int64("post_id", req.Post.ID), zap.String("asset", resp.Value.Asset))
	return resp.Value.Asset, nil
}
