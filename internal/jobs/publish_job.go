package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/retry"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/errtrack"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const reasonNoAccount = "no associated/active social account"

// PostResult is the outcome of one candidate post within a run.
type PostResult struct {
	PostID         int64           `json:"postId"`
	UserID         int64           `json:"userId"`
	Platform       models.Platform `json:"platform"`
	Status         string          `json:"status"`
	PlatformPostID string          `json:"platformPostId,omitempty"`
	Attempts       int             `json:"attempts,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type RunReport struct {
	RunID               string       `json:"runId"`
	Trigger             string       `json:"trigger"`
	StartedAt           time.Time    `json:"startedAt"`
	FinishedAt          time.Time    `json:"finishedAt"`
	TotalPostsProcessed int          `json:"totalPostsProcessed"`
	Published           int          `json:"published"`
	Failed              int          `json:"failed"`
	Skipped             int          `json:"skipped"`
	Results             []PostResult `json:"results"`
}

func (r *RunReport) add(res PostResult) {
	switch res.Status {
	case OutcomePublished:
		r.Published++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.TotalPostsProcessed = r.Published + r.Failed
	r.Results = append(r.Results, res)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, ref string, hint models.MediaKind) (*media.Media, error)
}

// PostLocker guards a post against being published by two runs at once.
type PostLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type PublishJob struct {
	posts     repository.PostRepository
	accounts  repository.SocialAccountRepository
	tokens    service.TokenService
	notifier  service.NotificationService
	registry  *publisher.Registry
	fetcher   MediaFetcher
	retrier   *retry.Handler
	locker    PostLocker
	leaseTTL  time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*PublishJob)

// WithLocker adds a per-post lease on top of the status re-check.
func WithLocker(l PostLocker, ttl time.Duration) Option {
	return func(j *PublishJob) {
		j.locker = l
		j.leaseTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(j *PublishJob) { j.now = now }
}

func NewPublishJob(
	cfg config.Config,
	posts repository.PostRepository,
	accounts repository.SocialAccountRepository,
	tokens service.TokenService,
	notifier service.NotificationService,
	registry *publisher.Registry,
	fetcher MediaFetcher,
	retrier *retry.Handler,
	logger *zap.Logger,
	opts ...Option) *PublishJob {
	j := &PublishJob{
		posts:     posts,
		accounts:  accounts,
		tokens:    tokens,
		notifier:  notifier,
		registry:  registry,
		fetcher:   fetcher,
		retrier:   retrier,
		batchSize: cfg.Publisher.BatchSize,
		leaseTTL:  cfg.Publisher.LeaseTTL,
		now:       time.Now,
		logger:    logger,
	}
	if j.batchSize <= 0 {
		j.batchSize = 50
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.leaseTTL <= 0 {
		j.leaseTTL = 5 * time.Minute
	}
	return j
}

// Run publishes one batch of due posts, oldest first. Only a failure to load
// the batch is returned as an error; per-post failures end up in the report.
func (j *PublishJob) Run(ctx context.Context, trigger string) (*RunReport, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	report := &RunReport{RunID: runID, Trigger: trigger, StartedAt: j.now(), Results: []PostResult{}}
	log := j.logger.With(zap.String("run_id", runID), zap.String("trigger", trigger))

	candidates, err := j.posts.ListDue(ctx, report.StartedAt, j.batchSize)
	if err != nil {
		metrics.RunFailed(trigger)
		errtrack.CaptureError(err, map[string]string{"run_id": runID, "trigger": trigger})
		log.Error("unable to load due posts", zap.Error(err))
		return nil, fmt.Errorf("list due posts: %w", err)
	}
	log.Info("publish run started", zap.Int("candidates", len(candidates)))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			log.Warn("publish run interrupted", zap.Error(err))
			break
		}
		report.add(j.processPost(ctx, candidate, log))
	}

	report.FinishedAt = j.now()
	metrics.RunCompleted(trigger, report.StartedAt, report.TotalPostsProcessed)
	log.Info("publish run finished",
		zap.Int("processed", report.TotalPostsProcessed),
		zap.Int("published", report.Published),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (j *PublishJob) processPost(ctx context.Context, candidate *models.Post, runLog *zap.Logger) PostResult {
	res := PostResult{PostID: candidate.ID, UserID: candidate.UserID, Platform: candidate.Platform}
	log := runLog.With(zap.Int64("post_id", candidate.ID), zap.Int64("user_id", candidate.UserID), zap.String("platform", string(candidate.Platform)))

	if j.locker != nil {
		unlock, ok, err := j.locker.TryLock(ctx, "post:"+strconv.FormatInt(candidate.ID, 10), j.leaseTTL)
		switch {
		case err != nil:
			log.Warn("post lease unavailable, relying on status check", zap.Error(err))
		case !ok:
			log.Info("post is being published by another run")
			metrics.PostSkipped("leased")
			return skipped(res, "leased by another run")
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					log.Warn("unable to release post lease", zap.Error(err))
				}
			}()
		}
	}

	post, err := j.posts.GetByID(ctx, candidate.ID)
	if err != nil {
		log.Error("unable to re-read post", zap.Error(err))
		return failed(res, fmt.Sprintf("re-read post: %v", err))
	}
	if post == nil || post.Status != models.PostStatusScheduled {
		status := "deleted"
		if post != nil {
			status = post.Status
		}
		log.Info("post no longer scheduled", zap.String("status", status))
		metrics.PostSkipped("status_changed")
		return skipped(res, "post is "+status)
	}

	acc, err := j.accounts.GetActiveByUserAndPlatform(ctx, post.UserID, post.Platform)
	if err != nil {
		log.Error("unable to load social account", zap.Error(err))
		return failed(res, fmt.Sprintf("load social account: %v", err))
	}
	if acc == nil {
		log.Warn("no active social account")
		metrics.PostFailed(string(post.Platform), "no_account")
		return failed(res, reasonNoAccount)
	}

	if err := j.tokens.EnsureValidToken(ctx, acc); err != nil {
		reason := "credential_refresh"
		if errors.Is(err, service.ErrReauthRequired) {
			reason = "reauth_required"
		}
		log.Warn("account token not usable", zap.Error(err))
		metrics.PostFailed(string(post.Platform), reason)
		return failed(res, err.Error())
	}

	pub, ok := j.registry.Get(post.Platform)
	if !ok {
		err := fmt.Errorf("no publisher registered for platform %q", post.Platform)
		j.failPost(ctx, post, err, log)
		return failed(res, err.Error())
	}

	accessToken, err := j.tokens.AccessToken(acc)
	if err != nil {
		j.failPost(ctx, post, err, log)
		return failed(res, err.Error())
	}

	var attachment *media.Media
	target := retry.Target{PostID: post.ID, UserID: post.UserID, Platform: post.Platform, RetryCount: post.RetryCount}

	result, err := retry.Run(ctx, j.retrier, target, pub.Timeout(), func(ctx context.Context, attempt int) (*publisher.Result, error) {
		if post.HasMedia() && attachment == nil {
			m, err := j.fetcher.Fetch(ctx, post.MediaURL, post.MediaType)
			if err != nil {
				return nil, fmt.Errorf("fetch media: %w", err)
			}
			attachment = m
		}
		return pub.Publish(ctx, publisher.Request{Post: post, Account: acc, AccessToken: accessToken, Media: attachment})
	})
	if err != nil {
		var rerr *retry.Error
		if errors.As(err, &rerr) {
			res.Attempts = rerr.Attempts
		}
		if interrupted(ctx, err) {
			log.Warn("publish interrupted, post stays scheduled", zap.Int("attempts", res.Attempts), zap.Error(err))
			metrics.PostSkipped("interrupted")
			return skipped(res, "interrupted: "+err.Error())
		}
		metrics.PostFailed(string(post.Platform), failureReason(err))
		log.Error("post publish failed", zap.Int("attempts", res.Attempts), zap.Error(err))
		j.notifyFailure(ctx, post, err, log)
		return failed(res, err.Error())
	}

	publishedAt := j.now()
	if err := j.posts.MarkPublished(context.WithoutCancel(ctx), post.ID, post.UserID, post.Platform, result.PlatformPostID, publishedAt); err != nil {
		log.Error("post published but status not recorded", zap.String("platform_post_id", result.PlatformPostID), zap.Error(err))
		errtrack.CaptureError(err, map[string]string{"post_id": strconv.FormatInt(post.ID, 10), "platform": string(post.Platform)})
		res.Error = fmt.Sprintf("published but status not recorded: %v", err)
	}

	metrics.PostPublished(string(post.Platform))
	log.Info("post published", zap.String("platform_post_id", result.PlatformPostID))

	postID := post.ID
	title := "Post published"
	message := fmt.Sprintf("Your %s post was published successfully.", platformLabel(post.Platform))
	if _, err := j.notifier.Notify(ctx, post.UserID, models.NotificationSuccess, title, message, &postID); err != nil {
		log.Error("unable to notify about published post", zap.Error(err))
	}

	res.Status = OutcomePublished
	res.PlatformPostID = result.PlatformPostID
	return res
}

// failPost marks a post failed for errors raised outside the retry engine.
func (j *PublishJob) failPost(ctx context.Context, post *models.Post, cause error, log *zap.Logger) {
	now := j.now()
	details, _ := json.Marshal(models.PostErrorDetails{Platform: post.Platform, OccurredAt: now})
	failure := models.PostFailure{Message: cause.Error(), Details: details, RetryCount: post.RetryCount, At: now}
	if err := j.posts.MarkFailed(context.WithoutCancel(ctx), post.ID, post.UserID, failure); err != nil {
		log.Error("unable to mark post failed", zap.Error(err))
	}
	metrics.PostFailed(string(post.Platform), "setup")
	log.Error("post failed before publishing", zap.Error(cause))
	j.notifyFailure(ctx, post, cause, log)
}

func (j *PublishJob) notifyFailure(ctx context.Context, post *models.Post, cause error, log *zap.Logger) {
	postID := post.ID
	title := "Post failed"
	message := fmt.Sprintf("Your %s post could not be published: %v", platformLabel(post.Platform), cause)
	if _, err := j.notifier.Notify(context.WithoutCancel(ctx), post.UserID, models.NotificationError, title, message, &postID); err != nil {
		log.Error("unable to notify about failed post", zap.Error(err))
	}
}

// interrupted reports whether err comes from the run's own context ending
// rather than from the per-call deadline.
func interrupted(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	var rerr *retry.Error
	if errors.As(err, &rerr) && rerr.TimedOut {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error) string {
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		switch {
		case rerr.TimedOut:
			return "timeout"
		case rerr.Retryable:
			return "exhausted"
		}
	}
	return "rejected"
}

func failed(res PostResult, reason string) PostResult {
	res.Status = OutcomeFailed
	res.Error = reason
	return res
}

func skipped(res PostResult, reason string) PostResult {
	res.Status = OutcomeSkipped
	res.Error = reason
	return res
}

func platformLabel(p models.Platform) string {
	switch p {
	case models.PlatformTwitter:
		return "Twitter/X"
	case models.PlatformLinkedIn:
		return "LinkedIn"
	case models.PlatformTikTok:
		return "TikTok"
	}
	return string(p)
}
