package models

import (
	"encoding/json"
	"time"
)

type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformLinkedIn Platform = "linkedin"
	PlatformTikTok   Platform = "tiktok"
)

type MediaKind string

const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Post struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Platform       Platform        `db:"platform" json:"platform"`
	Status         string          `db:"status" json:"status"` // draft, scheduled, published, failed
	Content        string          `db:"content" json:"content"`
	MediaURL       string          `db:"media_url" json:"media_url,omitempty"`
	MediaType      MediaKind       `db:"media_type" json:"media_type"`
	ThumbnailURL   string          `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	ScheduledFor   *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	PublishedAt    *time.Time      `db:"published_at" json:"published_at,omitempty"`
	TwitterPostID  string          `db:"twitter_post_id" json:"twitter_post_id,omitempty"`
	LinkedInPostID string          `db:"linkedin_post_id" json:"linkedin_post_id,omitempty"`
	TiktokPostID   string          `db:"tiktok_post_id" json:"tiktok_post_id,omitempty"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	LastRetryAt    *time.Time      `db:"last_retry_at" json:"last_retry_at,omitempty"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	ErrorDetails   json.RawMessage `db:"error_details" json:"error_details,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// HasMedia reports whether the post references an attachment.
func (p *Post) HasMedia() bool {
	return p.MediaURL != "" && p.MediaType != MediaNone && p.MediaType != ""
}

// PostErrorDetails is the structured blob persisted next to error_message.
type PostErrorDetails struct {
	Platform     Platform  `json:"platform"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
	StatusCode   int       `json:"status_code,omitempty"`
	Retryable    bool      `json:"retryable"`
	NextRetryIn  string    `json:"next_retry_in,omitempty"`
	TimedOut     bool      `json:"timed_out,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// PostFailure is one failed attempt as written to the post row.
type PostFailure struct {
	Message    string
	Details    json.RawMessage
	RetryCount int
	At         time.Time
}
