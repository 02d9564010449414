package errtrack

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var enabled atomic.Bool

type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Init configures Sentry. An empty DSN leaves error tracking disabled.
func Init(opts Options, logger *zap.Logger) error {
	if opts.DSN == "" {
		logger.Info("error tracking disabled: no SENTRY_DSN")
		enabled.Store(false)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Tags == nil {
				event.Tags = make(map[string]string)
			}
			event.Tags["service"] = "postflow"
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}

	enabled.Store(true)
	logger.Info("error tracking enabled", zap.String("environment", opts.Environment))
	return nil
}

func Enabled() bool { return enabled.Load() }

// CaptureError reports err with tags attached. It is a no-op when disabled.
func CaptureError(err error, tags map[string]string) {
	if err == nil || !Enabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Recover reports a panic and re-panics. Use with defer.
func Recover() {
	if r := recover(); r != nil {
		if Enabled() {
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
		}
		panic(r)
	}
}

func Flush(timeout time.Duration) {
	if Enabled() {
		sentry.Flush(timeout)
	}
}
