package metrics

import (
	"fmt"
	"io"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

func PostPublished(platform string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_posts_published_total{platform=%q}`, platform)).Inc()
}

func PostFailed(platform, reason string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_posts_failed_total{platform=%q,reason=%q}`, platform, reason)).Inc()
}

func PostSkipped(reason string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_posts_skipped_total{reason=%q}`, reason)).Inc()
}

// PublishAttempt counts adapter calls by outcome.
func PublishAttempt(platform, outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_publish_attempts_total{platform=%q,outcome=%q}`, platform, outcome)).Inc()
}

func TokenRefresh(platform, outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_token_refresh_total{platform=%q,outcome=%q}`, platform, outcome)).Inc()
}

func AccountDeactivated(platform string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_accounts_deactivated_total{platform=%q}`, platform)).Inc()
}

func NotificationCreated(kind string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_notifications_total{type=%q}`, kind)).Inc()
}

func RunCompleted(trigger string, started time.Time, processed int) {
	vm.GetOrCreateSummary(fmt.Sprintf(`postflow_publish_run_duration_seconds{trigger=%q}`, trigger)).UpdateDuration(started)
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_publish_run_posts_total{trigger=%q}`, trigger)).Add(processed)
}

func RunFailed(trigger string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`postflow_publish_run_errors_total{trigger=%q}`, trigger)).Inc()
}

func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, true)
}
