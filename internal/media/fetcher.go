package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"go.uber.org/zap"
)

const (
	defaultMaxBytes = 1 << 30
	presignExpiry   = 15 * time.Minute
)

// ErrStorageNotConfigured is returned for object keys when R2 credentials are absent.
var ErrStorageNotConfigured = errors.New("media storage is not configured")

// Media is a downloaded attachment.
type Media struct {
	Data []byte
	MIME string
	Kind models.MediaKind
	Name string
}

func (m *Media) Size() int64 { return int64(len(m.Data)) }

// FetchError carries the status of a failed download so callers can classify it.
type FetchError struct {
	Ref        string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch media %s: status %d", e.Ref, e.StatusCode)
}

func (e *FetchError) HTTPStatus() int { return e.StatusCode }

// RejectedError is a media failure that another attempt cannot fix.
type RejectedError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	reason := e.Reason
	if e.Err != nil {
		reason = e.Err.Error()
	}
	if e.Ref == "" {
		return "media: " + reason
	}
	return fmt.Sprintf("media %s: %s", e.Ref, reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Permanent() bool { return true }

// Presigner is the subset of s3.PresignClient the fetcher uses.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Fetcher struct {
	client    *http.Client
	presigner Presigner
	bucket    string
	maxBytes  int64
	logger    *zap.Logger
}

type Option func(*Fetcher)

func WithPresigner(p Presigner, bucket string) Option {
	return func(f *Fetcher) {
		f.presigner = p
		f.bucket = bucket
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

func NewFetcher(logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 2 * time.Minute},
		maxBytes: defaultMaxBytes,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewR2Presigner builds a presign client for the Cloudflare R2 bucket in cfg.
// It returns nil when R2 is not configured.
func NewR2Presigner(ctx context.Context, cfg config.R2) (*s3.PresignClient, error) {
	if cfg.AccountID == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return s3.NewPresignClient(client), nil
}

// Fetch downloads the attachment referenced by ref. Absolute http(s) URLs are
// fetched directly; anything else is treated as an object key in the bucket.
func (f *Fetcher) Fetch(ctx context.Context, ref string, hint models.MediaKind) (*Media, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &RejectedError{Reason: "empty media reference"}
	}

	url := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		signed, err := f.presign(ctx, ref)
		if err != nil {
			return nil, err
		}
		url = signed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Ref: ref, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", ref, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &RejectedError{Ref: ref, Reason: fmt.Sprintf("exceeds %d bytes", f.maxBytes)}
	}

	m := &Media{Data: data, Name: path.Base(strings.SplitN(ref, "?", 2)[0])}
	m.MIME, m.Kind = detect(data, resp.Header.Get("Content-Type"), hint)

	f.logger.Debug("media fetched",
		zap.String("ref", ref),
		zap.String("mime", m.MIME),
		zap.Int64("size", m.Size()),
	)
	return m, nil
}

func (f *Fetcher) presign(ctx context.Context, key string) (string, error) {
	if f.presigner == nil {
		return "", &RejectedError{Ref: key, Err: ErrStorageNotConfigured}
	}

	req, err := f.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// detect prefers magic bytes, then the served Content-Type, then the kind stored on the post.
func detect(data []byte, contentType string, hint models.MediaKind) (string, models.MediaKind) {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		switch {
		case filetype.IsImage(data):
			return kind.MIME.Value, models.MediaImage
		case filetype.IsVideo(data):
			return kind.MIME.Value, models.MediaVideo
		}
	}

	mime := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	switch {
	case strings.HasPrefix(mime, "image/"):
		return mime, models.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return mime, models.MediaVideo
	}

	switch hint {
	case models.MediaImage:
		return "image/jpeg", models.MediaImage
	case models.MediaVideo:
		return "video/mp4", models.MediaVideo
	}
	return "application/octet-stream", models.MediaNone
}
