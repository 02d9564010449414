package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"go.uber.org/zap"
)

// ErrTimeout is the cause recorded when the hard deadline of a call expires.
var ErrTimeout = errors.New("publish timed out")

// errInterrupted tells Run that the loop stopped because its context ended.
var errInterrupted = errors.New("retry loop interrupted")

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     32 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// backOff yields the delay before each retry; with jitter the delay is spread over 0.5x-1.5x.
func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()
	return b
}

// Recorder persists attempt state on the post being published.
type Recorder interface {
	RecordRetry(ctx context.Context, postID, userID int64, f models.PostFailure) error
	MarkFailed(ctx context.Context, postID, userID int64, f models.PostFailure) error
}

// Target identifies the post an operation publishes.
type Target struct {
	PostID     int64
	UserID     int64
	Platform   models.Platform
	RetryCount int
}

// Error summarises a call that did not succeed.
type Error struct {
	Attempts  int
	Retryable bool
	TimedOut  bool
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%v after %d attempt(s)", e.Err, e.Attempts)
	case e.Retryable:
		return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable classifies a failure. Errors reporting Permanent() true and HTTP
// statuses 400, 401, 403 and 404 are final; everything else may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var permanent interface{ Permanent() bool }
	if errors.As(err, &permanent) && permanent.Permanent() {
		return false
	}

	if code := StatusCode(err); code != 0 {
		switch code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false
		}
	}
	return true
}

// maxDetailBody caps the provider answer kept in the error details.
const maxDetailBody = 2048

// responseBody extracts the provider's answer from err, or "".
func responseBody(err error) string {
	var bodied interface{ ResponseBody() string }
	if !errors.As(err, &bodied) {
		return ""
	}
	body := strings.TrimSpace(bodied.ResponseBody())
	if len(body) > maxDetailBody {
		body = body[:maxDetailBody]
	}
	return body
}

// StatusCode extracts an HTTP status from err, or 0.
func StatusCode(err error) int {
	var coded interface{ HTTPStatus() int }
	if errors.As(err, &coded) {
		return coded.HTTPStatus()
	}
	return 0
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = sleep }
}

type Handler struct {
	policy   Policy
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewHandler(policy Policy, recorder Recorder, logger *zap.Logger, opts ...Option) *Handler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	h := &Handler{
		policy:   policy,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Policy() Policy { return h.policy }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// state is shared between the attempt loop and the deadline watcher so that
// exactly one of them writes the terminal outcome.
type state struct {
	mu        sync.Mutex
	finished  bool
	abandoned bool
	attempts  int
	failures  int
	inFlight  bool
	lastErr   error
}

func (s *state) begin(attempt int) {
	s.mu.Lock()
	s.attempts = attempt
	s.inFlight = true
	s.mu.Unlock()
}

func (s *state) fail(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.inFlight = false
	s.lastErr = err
	return s.failures
}

// write runs fn unless the watcher has taken over.
func (s *state) write(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return false
	}
	fn()
	return true
}

// finish claims the terminal outcome for the loop.
func (s *state) finish(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return false
	}
	s.finished = true
	if fn != nil {
		fn()
	}
	return true
}

// abandon claims the terminal outcome for the watcher.
func (s *state) abandon() (attempts, failed int, lastErr error, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return 0, 0, nil, false
	}
	s.abandoned = true
	failed = s.failures
	if s.inFlight {
		failed++
	}
	return s.attempts, failed, s.lastErr, true
}

// Run executes op under the handler's policy and a hard timeout. Transient
// failures are recorded on the post and retried after a backoff delay; final
// failures mark the post failed. A non-positive timeout disables the deadline.
func Run[T any](ctx context.Context, h *Handler, target Target, timeout time.Duration, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		val T
		err error
	}

	st := &state{}
	done := make(chan outcome, 1)
	go func() {
		val, err := attemptLoop(runCtx, h, target, st, op)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		if !errors.Is(out.err, errInterrupted) {
			return out.val, out.err
		}
	case <-runCtx.Done():
	}

	attempts, failed, lastErr, ok := st.abandon()
	if !ok {
		out := <-done
		return out.val, out.err
	}

	log := h.logger.With(zap.Int64("post_id", target.PostID), zap.String("platform", string(target.Platform)))

	if ctx.Err() != nil {
		log.Warn("publish interrupted", zap.Int("attempts", attempts), zap.Error(ctx.Err()))
		return zero, &Error{Attempts: attempts, Retryable: true, Err: ctx.Err()}
	}

	cause := fmt.Errorf("%w after %s", ErrTimeout, timeout)
	if lastErr != nil {
		cause = fmt.Errorf("%w after %s (last error: %v)", ErrTimeout, timeout, lastErr)
	}
	h.markFailed(ctx, target, cause, attempts, target.RetryCount+failed, true)
	metrics.PublishAttempt(string(target.Platform), "timeout")
	log.Error("publish timed out", zap.Duration("timeout", timeout), zap.Int("attempts", attempts))

	return zero, &Error{Attempts: attempts, Retryable: true, TimedOut: true, Err: cause}
}

func attemptLoop[T any](ctx context.Context, h *Handler, target Target, st *state, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	b := h.policy.backOff()
	log := h.logger.With(zap.Int64("post_id", target.PostID), zap.String("platform", string(target.Platform)))
	platform := string(target.Platform)

	for attempt := 1; attempt <= h.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, errInterrupted
		}

		st.begin(attempt)
		val, err := op(ctx, attempt)
		if err == nil {
			if !st.finish(nil) {
				return zero, errInterrupted
			}
			metrics.PublishAttempt(platform, "success")
			if attempt > 1 {
				log.Info("publish succeeded after retry", zap.Int("attempt", attempt))
			}
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, errInterrupted
		}

		failures := st.fail(err)
		retryCount := target.RetryCount + failures

		if !IsRetryable(err) {
			st.finish(func() { h.markFailed(ctx, target, err, attempt, retryCount, false) })
			metrics.PublishAttempt(platform, "failed")
			log.Warn("publish failed permanently", zap.Int("attempt", attempt), zap.Int("status", StatusCode(err)), zap.Error(err))
			return zero, &Error{Attempts: attempt, Retryable: false, Err: err}
		}

		if attempt == h.policy.MaxAttempts {
			st.finish(func() { h.markFailed(ctx, target, err, attempt, retryCount, false) })
			metrics.PublishAttempt(platform, "failed")
			log.Error("publish attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return zero, &Error{Attempts: attempt, Retryable: true, Err: err}
		}

		delay := b.NextBackOff()
		st.write(func() { h.recordRetry(ctx, target, err, attempt, retryCount, delay) })
		metrics.PublishAttempt(platform, "retry")
		log.Warn("publish attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", h.policy.MaxAttempts),
			zap.Duration("next_retry_in", delay),
			zap.Error(err),
		)

		if err := h.sleep(ctx, delay); err != nil {
			return zero, errInterrupted
		}
	}

	// unreachable: the last attempt always returns above
	return zero, errInterrupted
}

func (h *Handler) recordRetry(ctx context.Context, target Target, cause error, attempt, retryCount int, delay time.Duration) {
	now := h.now()
	details := h.details(target, cause, attempt, now, false)
	details.NextRetryIn = delay.String()

	failure := models.PostFailure{
		Message:    cause.Error(),
		Details:    mustJSON(details),
		RetryCount: retryCount,
		At:         now,
	}
	if err := h.recorder.RecordRetry(context.WithoutCancel(ctx), target.PostID, target.UserID, failure); err != nil {
		h.logger.Error("unable to record retry", zap.Int64("post_id", target.PostID), zap.Error(err))
	}
}

func (h *Handler) markFailed(ctx context.Context, target Target, cause error, attempt, retryCount int, timedOut bool) {
	now := h.now()
	failure := models.PostFailure{
		Message:    cause.Error(),
		Details:    mustJSON(h.details(target, cause, attempt, now, timedOut)),
		RetryCount: retryCount,
		At:         now,
	}
	if err := h.recorder.MarkFailed(context.WithoutCancel(ctx), target.PostID, target.UserID, failure); err != nil {
		h.logger.Error("unable to mark post failed", zap.Int64("post_id", target.PostID), zap.Error(err))
	}
}

func (h *Handler) details(target Target, cause error, attempt int, at time.Time, timedOut bool) models.PostErrorDetails {
	return models.PostErrorDetails{
		Platform:     target.Platform,
		Attempt:      attempt,
		MaxAttempts:  h.policy.MaxAttempts,
		StatusCode:   StatusCode(cause),
		Retryable:    IsRetryable(cause),
		TimedOut:     timedOut,
		ResponseBody: responseBody(cause),
		OccurredAt:   at,
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
