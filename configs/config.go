package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Publisher struct {
	BatchSize            int
	CronSpec             string
	TokenRefreshCronSpec string
	LeaseTTL             time.Duration
}

type Config struct {
	TwitterClientID      string
	TwitterClientSecret  string
	LinkedInClientID     string
	LinkedInClientSecret string
	TiktokClientKey      string
	TiktokClientSecret   string
	PostgresURI          string
	RedisURI             string
	HTTPAddr             string
	CronSecret           string
	SecretKey            string
	LogLevel             string
	LogFormat            string
	SentryDSN            string
	SentryEnvironment    string
	EmailNotifications   bool
	R2                   R2
	SMTP                 SMTP
	Publisher            Publisher
}

// MissingConfigError reports the environment keys a platform needs but does not have.
type MissingConfigError struct {
	Platform string
	Keys     []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Platform, strings.Join(e.Keys, ", "))
}

// Permanent marks configuration gaps as non-retryable.
func (e *MissingConfigError) Permanent() bool { return true }

func LoadConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		TwitterClientID:      v.GetString("TWITTER_CLIENT_ID"),
		TwitterClientSecret:  v.GetString("TWITTER_CLIENT_SECRET"),
		LinkedInClientID:     v.GetString("LINKEDIN_CLIENT_ID"),
		LinkedInClientSecret: v.GetString("LINKEDIN_CLIENT_SECRET"),
		TiktokClientKey:      v.GetString("TIKTOK_CLIENT_KEY"),
		TiktokClientSecret:   v.GetString("TIKTOK_CLIENT_SECRET"),
		PostgresURI:          v.GetString("POSTGRES_URI"),
		RedisURI:             v.GetString("REDIS_URI"),
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		CronSecret:           v.GetString("CRON_SECRET"),
		SecretKey:            v.GetString("SECRET_KEY"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
		SentryDSN:            v.GetString("SENTRY_DSN"),
		SentryEnvironment:    v.GetString("SENTRY_ENVIRONMENT"),
		EmailNotifications:   v.GetBool("EMAIL_NOTIFICATIONS_ENABLED"),
		R2: R2{
			AccountID:  v.GetString("R2_ACCOUNT_ID"),
			AccessKey:  v.GetString("R2_ACCESS_KEY"),
			SecretKey:  v.GetString("R2_SECRET_KEY"),
			BucketName: v.GetString("R2_BUCKET_NAME"),
		},
		SMTP: SMTP{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Publisher: Publisher{
			BatchSize:            v.GetInt("PUBLISH_BATCH_SIZE"),
			CronSpec:             v.GetString("PUBLISH_CRON_SPEC"),
			TokenRefreshCronSpec: v.GetString("TOKEN_REFRESH_CRON_SPEC"),
			LeaseTTL:             v.GetDuration("POST_LEASE_TTL"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SENTRY_ENVIRONMENT", "production")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("PUBLISH_BATCH_SIZE", 50)
	v.SetDefault("PUBLISH_CRON_SPEC", "@every 00h05m00s")
	v.SetDefault("TOKEN_REFRESH_CRON_SPEC", "@every 00h10m00s")
	v.SetDefault("POST_LEASE_TTL", "5m")
}

// RequirePlatform checks the client credentials a platform needs.
func (c *Config) RequirePlatform(platform string) error {
	var missing []string
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	switch platform {
	case "twitter":
		check("TWITTER_CLIENT_ID", c.TwitterClientID)
		check("TWITTER_CLIENT_SECRET", c.TwitterClientSecret)
	case "linkedin":
		check("LINKEDIN_CLIENT_ID", c.LinkedInClientID)
		check("LINKEDIN_CLIENT_SECRET", c.LinkedInClientSecret)
	case "tiktok":
		check("TIKTOK_CLIENT_KEY", c.TiktokClientKey)
		check("TIKTOK_CLIENT_SECRET", c.TiktokClientSecret)
	default:
		return fmt.Errorf("unknown platform %q", platform)
	}

	if len(missing) > 0 {
		return &MissingConfigError{Platform: platform, Keys: missing}
	}
	return nil
}

// Validate checks what the server cannot start without.
func (c *Config) Validate() error {
	if c.PostgresURI == "" {
		return fmt.Errorf("POSTGRES_URI is required")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	if c.Publisher.BatchSize <= 0 || c.Publisher.BatchSize > 500 {
		return fmt.Errorf("PUBLISH_BATCH_SIZE must be between 1 and 500, got %d", c.Publisher.BatchSize)
	}
	if l := len(c.SecretKey); l != 0 && l != 16 && l != 24 && l != 32 {
		return fmt.Errorf("SECRET_KEY must be 16, 24 or 32 bytes, got %d", l)
	}
	return nil
}
