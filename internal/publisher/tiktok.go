package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
)

const tiktokMaxChunk = 10 << 20

// tiktokPostIDFields lists the status fields that have carried the public post id, in lookup order.
var tiktokPostIDFields = []string{
	"publicaly_available_post_id",
	"publicly_available_post_id",
	"post_id",
	"video_id",
	"item_id",
}

type Tiktok struct {
	BaseURL      string
	ChunkSize    int64
	PollInterval time.Duration
	MaxPolls     int

	cfg     config.Config
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewTiktok(cfg config.Config, client *http.Client, logger *zap.Logger) *Tiktok {
	return &Tiktok{
		BaseURL:      "https://open.tiktokapis.com",
		ChunkSize:    tiktokMaxChunk,
		PollInterval: 3 * time.Second,
		MaxPolls:     30,
		cfg:          cfg,
		client:       client,
		logger:       logger.With(zap.String("platform", string(models.PlatformTikTok))),
		timeout:      120 * time.Second,
	}
}

func (t *Tiktok) Platform() models.Platform { return models.PlatformTikTok }

func (t *Tiktok) Timeout() time.Duration { return t.timeout }

// ChunkPlan returns the chunk size and count used to upload size bytes.
func ChunkPlan(size, maxChunk int64) (chunkSize, count int64) {
	if size <= 0 {
		return 0, 0
	}
	chunkSize = min(maxChunk, size)
	count = (size + chunkSize - 1) / chunkSize
	return chunkSize, count
}

func (t *Tiktok) Publish(ctx context.Context, req Request) (*Result, error) {
	if err := t.cfg.RequirePlatform(string(models.PlatformTikTok)); err != nil {
		return nil, err
	}
	if req.Media == nil || req.Media.Kind != models.MediaVideo {
		return nil, &InputError{Platform: models.PlatformTikTok, Reason: "only video posts are supported"}
	}
	if req.Media.Size() == 0 {
		return nil, &InputError{Platform: models.PlatformTikTok, Reason: "video is empty"}
	}

	size := req.Media.Size()
	chunkSize, count := ChunkPlan(size, t.ChunkSize)

	upload, err := t.initUpload(ctx, req, size, chunkSize, count)
	if err != nil {
		return nil, err
	}
	log := t.logger.With(zap.Int64("post_id", req.Post.ID), zap.String("publish_id", upload.PublishID))

	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, size) - 1

		contentType := req.Media.MIME
		if !strings.HasPrefix(contentType, "video/") {
			contentType = "video/mp4"
		}

		if _, _, err := send(ctx, t.client, models.PlatformTikTok, call{
			method:      http.MethodPut,
			url:         upload.UploadURL,
			body:        bytes.NewReader(req.Media.Data[start : end+1]),
			contentType: contentType,
			headers:     map[string]string{"Content-Range": fmt.Sprintf("bytes %d-%d/%d", start, end, size)},
		}); err != nil {
			return nil, fmt.Errorf("upload chunk %d/%d: %w", i+1, count, err)
		}
	}
	log.Debug("tiktok upload complete", zap.Int64("chunks", count), zap.Int64("bytes", size))

	id, err := t.awaitPublish(ctx, req.AccessToken, upload.PublishID, log)
	if err != nil {
		return nil, err
	}
	return &Result{PlatformPostID: id}, nil
}

func (t *Tiktok) initUpload(ctx context.Context, req Request, size, chunkSize, count int64) (*transfer.TiktokInitData, error) {
	payload, err := json.Marshal(transfer.VideoInitRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 req.Post.Content,
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       size,
			ChunkSize:       chunkSize,
			TotalChunkCount: count,
		},
	})
	if err != nil {
		return nil, err
	}

	_, body, err := send(ctx, t.client, models.PlatformTikTok, call{
		method:      http.MethodPost,
		url:         t.BaseURL + "/v2/post/publish/video/init/",
		token:       req.AccessToken,
		body:        bytes.NewReader(payload),
		contentType: "application/json; charset=UTF-8",
	})
	if err != nil {
		return nil, fmt.Errorf("init upload: %w", err)
	}

	var resp transfer.TiktokInitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode init response: %w", err)
	}
	if !resp.Error.OK() {
		return nil, tiktokEnvelopeError(resp.Error, body)
	}
	if resp.Data.PublishID == "" || resp.Data.UploadURL == "" {
		return nil, fmt.Errorf("init response has no publish id or upload url")
	}
	return &resp.Data, nil
}

// awaitPublish polls the publish status until TikTok reports a terminal state.
// If polling runs out while TikTok is still processing, the publish id stands in
// for the post id; the upload has been accepted and must not be repeated. For
// the same reason a poll that fails in transit is logged and polled again.
func (t *Tiktok) awaitPublish(ctx context.Context, token, publishID string, log *zap.Logger) (string, error) {
	payload, err := json.Marshal(transfer.TiktokStatusRequest{PublishID: publishID})
	if err != nil {
		return "", err
	}

	status := ""
	for poll := 0; poll < t.MaxPolls; poll++ {
		if poll > 0 {
			if err := sleepContext(ctx, t.PollInterval); err != nil {
				return "", err
			}
		}

		_, body, err := send(ctx, t.client, models.PlatformTikTok, call{
			method:      http.MethodPost,
			url:         t.BaseURL + "/v2/post/publish/status/fetch/",
			token:       token,
			body:        bytes.NewReader(payload),
			contentType: "application/json; charset=UTF-8",
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("fetch status: %w", err)
			}
			log.Warn("tiktok status poll failed", zap.Int("poll", poll+1), zap.Error(err))
			continue
		}

		var resp transfer.TiktokStatusResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			log.Warn("tiktok status response unreadable", zap.Int("poll", poll+1), zap.Error(err))
			continue
		}
		if !resp.Error.OK() {
			return "", tiktokEnvelopeError(resp.Error, body)
		}

		var data transfer.TiktokStatusData
		if len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return "", fmt.Errorf("decode status data: %w", err)
			}
		}
		status = data.Status

		switch status {
		case "PUBLISH_COMPLETE", "SEND_TO_USER_INBOX":
			if id := TiktokPostID(resp.Data); id != "" {
				return id, nil
			}
			log.Info("tiktok status has no post id, using publish id", zap.String("status", status))
			return publishID, nil
		case "FAILED":
			return "", fmt.Errorf("tiktok publish %s failed: %s", publishID, data.FailReason)
		}
	}

	log.Warn("tiktok still processing, using publish id", zap.String("status", status), zap.Int("polls", t.MaxPolls))
	return publishID, nil
}

// TiktokPostID extracts the public post id from a status payload. Values may
// be strings, numbers or arrays of either.
func TiktokPostID(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return ""
	}

	for _, name := range tiktokPostIDFields {
		if id := idValue(fields[name]); id != "" {
			return id
		}
	}
	return ""
}

func idValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case []any:
		for _, item := range x {
			if id := idValue(item); id != "" {
				return id
			}
		}
	}
	return ""
}

func tiktokEnvelopeError(e transfer.TiktokError, body []byte) error {
	return &APIError{
		Platform:   models.PlatformTikTok,
		StatusCode: tiktokErrorStatus(e.Code),
		Body:       string(body),
	}
}

func tiktokErrorStatus(code string) int {
	switch code {
	case "access_token_invalid":
		return http.StatusUnauthorized
	case "scope_not_authorized", "scope_permission_missed":
		return http.StatusForbidden
	case "invalid_params", "invalid_file_upload":
		return http.StatusBadRequest
	case "rate_limit_exceeded", "spam_risk_too_many_posts":
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
