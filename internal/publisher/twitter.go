package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"go.uber.org/zap"
)

const (
	TweetMaxLength = 280

	twitterChunkSize       = 5 << 20
	twitterMaxStatusChecks = 30
)

type Twitter struct {
	APIBaseURL    string
	UploadBaseURL string

	cfg     config.Config
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewTwitter(cfg config.Config, client *http.Client, logger *zap.Logger) *Twitter {
	return &Twitter{
		APIBaseURL:    "https://api.twitter.com",
		UploadBaseURL: "https://upload.twitter.com",
		cfg:           cfg,
		client:        client,
		logger:        logger.With(zap.String("platform", string(models.PlatformTwitter))),
		timeout:       30 * time.Second,
	}
}

func (t *Twitter) Platform() models.Platform { return models.PlatformTwitter }

func (t *Twitter) Timeout() time.Duration { return t.timeout }

func (t *Twitter) Publish(ctx context.Context, req Request) (*Result, error) {
	if err := t.cfg.RequirePlatform(string(models.PlatformTwitter)); err != nil {
		return nil, err
	}

	text := TruncateText(req.Post.Content, TweetMaxLength)
	if text != req.Post.Content {
		t.logger.Warn("tweet text truncated",
			zap.Int64("post_id", req.Post.ID),
			zap.Int("length", utf8.RuneCountInString(req.Post.Content)),
			zap.Int("max", TweetMaxLength),
		)
	}

	tweet := transfer.TweetRequest{Text: text}
	if req.Media != nil {
		mediaID, err := t.uploadMedia(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("upload media: %w", err)
		}
		tweet.Media = &transfer.TweetMedia{MediaIDs: []string{mediaID}}
	} else if text == "" {
		return nil, &InputError{Platform: models.PlatformTwitter, Reason: "tweet has neither text nor media"}
	}

	payload, err := json.Marshal(tweet)
	if err != nil {
		return nil, err
	}

	_, body, err := send(ctx, t.client, models.PlatformTwitter, call{
		method:      http.MethodPost,
		url:         t.APIBaseURL + "/2/tweets",
		token:       req.AccessToken,
		body:        bytes.NewReader(payload),
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}

	var resp transfer.TweetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tweet response: %w", err)
	}
	if resp.Data.ID == "" {
		return nil, errors.New("twitter response has no tweet id")
	}

	return &Result{PlatformPostID: resp.Data.ID}, nil
}

// TruncateText cuts s to at most max characters.
func TruncateText(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func (t *Twitter) uploadMedia(ctx context.Context, req Request) (string, error) {
	if req.Media.Kind == models.MediaVideo {
		return t.uploadChunked(ctx, req)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", req.Media.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(req.Media.Data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	_, body, err := send(ctx, t.client, models.PlatformTwitter, call{
		method:      http.MethodPost,
		url:         t.UploadBaseURL + "/1.1/media/upload.json",
		token:       req.AccessToken,
		body:        &buf,
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}

	resp, err := decodeTwitterMedia(body)
	if err != nil {
		return "", err
	}
	return resp.MediaIDString, nil
}

// uploadChunked runs the INIT, APPEND and FINALIZE sequence videos require.
func (t *Twitter) uploadChunked(ctx context.Context, req Request) (string, error) {
	endpoint := t.UploadBaseURL + "/1.1/media/upload.json"

	initForm := url.Values{}
	initForm.Set("command", "INIT")
	initForm.Set("total_bytes", strconv.FormatInt(req.Media.Size(), 10))
	initForm.Set("media_type", req.Media.MIME)
	initForm.Set("media_category", "tweet_video")

	_, body, err := send(ctx, t.client, models.PlatformTwitter, call{
		method:      http.MethodPost,
		url:         endpoint,
		token:       req.AccessToken,
		body:        bytes.NewBufferString(initForm.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", fmt.Errorf("init: %w", err)
	}
	initResp, err := decodeTwitterMedia(body)
	if err != nil {
		return "", err
	}
	mediaID := initResp.MediaIDString

	data := req.Media.Data
	for segment := 0; len(data) > 0; segment++ {
		n := min(twitterChunkSize, len(data))

		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		fields := [][2]string{{"command", "APPEND"}, {"media_id", mediaID}, {"segment_index", strconv.Itoa(segment)}}
		for _, f := range fields {
			if err := w.WriteField(f[0], f[1]); err != nil {
				return "", fmt.Errorf("write %s field: %w", f[0], err)
			}
		}
		part, err := w.CreateFormFile("media", req.Media.Name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(data[:n]); err != nil {
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}

		if _, _, err := send(ctx, t.client, models.PlatformTwitter, call{
			method:      http.MethodPost,
			url:         endpoint,
			token:       req.AccessToken,
			body:        &buf,
			contentType: w.FormDataContentType(),
		}); err != nil {
			return "", fmt.Errorf("append segment %d: %w", segment, err)
		}
		data = data[n:]
	}

	finalForm := url.Values{}
	finalForm.Set("command", "FINALIZE")
	finalForm.Set("media_id", mediaID)

	_, body, err = send(ctx, t.client, models.PlatformTwitter, call{
		method:      http.MethodPost,
		url:         endpoint,
		token:       req.AccessToken,
		body:        bytes.NewBufferString(finalForm.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	final, err := decodeTwitterMedia(body)
	if err != nil {
		return "", err
	}

	return mediaID, t.awaitProcessing(ctx, endpoint, req.AccessToken, mediaID, final.ProcessingInfo)
}

func (t *Twitter) awaitProcessing(ctx context.Context, endpoint, token, mediaID string, info *transfer.TwitterProcessingInfo) error {
	for check := 0; info != nil; check++ {
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			return fmt.Errorf("twitter could not process media %s", mediaID)
		}
		if check == twitterMaxStatusChecks {
			return fmt.Errorf("media %s still %s after %d checks", mediaID, info.State, check)
		}

		if err := sleepContext(ctx, time.Duration(info.CheckAfterSecs)*time.Second); err != nil {
			return err
		}

		q := url.Values{}
		q.Set("command", "STATUS")
		q.Set("media_id", mediaID)
		_, body, err := send(ctx, t.client, models.PlatformTwitter, call{
			method: http.MethodGet,
			url:    endpoint + "?" + q.Encode(),
			token:  token,
		})
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		resp, err := decodeTwitterMedia(body)
		if err != nil {
			return err
		}
		info = resp.ProcessingInfo
	}
	return nil
}

func decodeTwitterMedia(body []byte) (*transfer.TwitterMediaResponse, error) {
	var resp transfer.TwitterMediaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode media response: %w", err)
	}
	if resp.MediaIDString == "" && resp.MediaID != 0 {
		resp.MediaIDString = strconv.FormatInt(resp.MediaID, 10)
	}
	if resp.MediaIDString == "" {
		return nil, errors.New("media response has no media id")
	}
	return &resp, nil
}
