package metrics

import (
	"bytes"
	"testing"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	published := vm.GetOrCreateCounter(`postflow_posts_published_total{platform="twitter"}`)
	before := published.Get()

	PostPublished("twitter")
	PostPublished("twitter")

	assert.Equal(t, before+2, published.Get())
}

func TestWritePrometheus(t *testing.T) {
	PostFailed("tiktok", "exhausted")
	TokenRefresh("twitter", "ok")
	RunCompleted("http", time.Now().Add(-time.Second), 3)

	var buf bytes.Buffer
	WritePrometheus(&buf)

	out := buf.String()
	assert.Contains(t, out, `postflow_posts_failed_total{platform="tiktok",reason="exhausted"}`)
	assert.Contains(t, out, `postflow_token_refresh_total{platform="twitter",outcome="ok"}`)
	assert.Contains(t, out, `postflow_publish_run_posts_total{trigger="http"}`)
}
