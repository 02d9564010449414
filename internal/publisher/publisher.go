package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/models"
)

const maxResponseBody = 64 << 10

// Request is everything an adapter needs to publish one post.
type Request struct {
	Post        *models.Post
	Account     *models.SocialAccount
	AccessToken string
	Media       *media.Media
}

type Result struct {
	PlatformPostID string
}

type Publisher interface {
	Platform() models.Platform
	// Timeout bounds a whole publish call, retries included.
	Timeout() time.Duration
	Publish(ctx context.Context, req Request) (*Result, error)
}

type Registry struct {
	publishers map[models.Platform]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[models.Platform]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Get(platform models.Platform) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

func (r *Registry) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s api returned %d: %s", e.Platform, e.StatusCode, body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) ResponseBody() string { return e.Body }

// InputError means the post itself cannot be published on the platform.
type InputError struct {
	Platform models.Platform
	Reason   string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
}

func (e *InputError) Permanent() bool { return true }

type call struct {
	method      string
	url         string
	token       string
	body        io.Reader
	contentType string
	headers     map[string]string
}

// send performs c and returns the response headers and body, or an *APIError
// for any non-2xx status.
func send(ctx context.Context, client *http.Client, platform models.Platform, c call) (http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, c.body)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s request: %w", platform, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", c.method, redact(c.url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", platform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, body, &APIError{Platform: platform, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Header, body, nil
}

// redact drops the query string, which may carry signatures.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
