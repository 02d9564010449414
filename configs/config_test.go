package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PUBLISH_BATCH_SIZE", "")
	t.Setenv("TWITTER_CLIENT_ID", "twitter-id")

	cfg := LoadConfig()

	assert.Equal(t, "twitter-id", cfg.TwitterClientID)
	assert.Equal(t, 50, cfg.Publisher.BatchSize)
	assert.Equal(t, "@every 00h05m00s", cfg.Publisher.CronSpec)
	assert.Equal(t, 5*time.Minute, cfg.Publisher.LeaseTTL)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PUBLISH_BATCH_SIZE", "20")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("EMAIL_NOTIFICATIONS_ENABLED", "true")

	cfg := LoadConfig()

	assert.Equal(t, 20, cfg.Publisher.BatchSize)
	assert.Equal(t, "s3cret", cfg.CronSecret)
	assert.True(t, cfg.EmailNotifications)
}

func TestRequirePlatform(t *testing.T) {
	cfg := &Config{TwitterClientID: "id"}

	err := cfg.RequirePlatform("twitter")
	require.Error(t, err)

	var missing *MissingConfigError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "twitter", missing.Platform)
	assert.Equal(t, []string{"TWITTER_CLIENT_SECRET"}, missing.Keys)
	assert.True(t, missing.Permanent())

	err = cfg.RequirePlatform("tiktok")
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"TIKTOK_CLIENT_KEY", "TIKTOK_CLIENT_SECRET"}, missing.Keys)

	cfg.TwitterClientSecret = "secret"
	assert.NoError(t, cfg.RequirePlatform("twitter"))

	assert.Error(t, cfg.RequirePlatform("myspace"))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		PostgresURI: "postgres://localhost/postflow",
		CronSecret:  "secret",
		Publisher:   Publisher{BatchSize: 50},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Publisher.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg.Publisher.BatchSize = 50
	cfg.SecretKey = "short"
	assert.Error(t, cfg.Validate())

	cfg.SecretKey = ""
	cfg.CronSecret = ""
	assert.Error(t, cfg.Validate())
}
