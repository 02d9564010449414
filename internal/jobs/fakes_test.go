package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/repository"
)

type fakePosts struct {
	mu        sync.Mutex
	posts     map[int64]*models.Post
	listErr   error
	afterList func(*fakePosts)
	retries   []models.PostFailure
}

func newFakePosts(posts ...*models.Post) *fakePosts {
	f := &fakePosts{posts: map[int64]*models.Post{}}
	for _, p := range posts {
		cp := *p
		f.posts[p.ID] = &cp
	}
	return f
}

func (f *fakePosts) get(id int64) models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.posts[id]
}

func (f *fakePosts) setStatus(id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[id].Status = status
}

func (f *fakePosts) GetByID(_ context.Context, id int64) (*models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	f.mu.Lock()
	var due []*models.Post
	for _, p := range f.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now) {
			cp := *p
			due = append(due, &cp)
		}
	}
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(*due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	if f.afterList != nil {
		f.afterList(f)
	}
	return due, nil
}

func (f *fakePosts) MarkPublished(_ context.Context, postID, userID int64, platform models.Platform, platformPostID string, publishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok || p.UserID != userID {
		return repository.ErrNotFound
	}
	p.Status = models.PostStatusPublished
	p.PublishedAt = &publishedAt
	p.ErrorMessage = ""
	switch platform {
	case models.PlatformTwitter:
		p.TwitterPostID = platformPostID
	case models.PlatformLinkedIn:
		p.LinkedInPostID = platformPostID
	case models.PlatformTikTok:
		p.TiktokPostID = platformPostID
	}
	return nil
}

func (f *fakePosts) RecordRetry(_ context.Context, postID, userID int64, fl models.PostFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok || p.UserID != userID {
		return repository.ErrNotFound
	}
	p.RetryCount = fl.RetryCount
	p.LastRetryAt = &fl.At
	p.ErrorMessage = fl.Message
	p.ErrorDetails = fl.Details
	f.retries = append(f.retries, fl)
	return nil
}

func (f *fakePosts) MarkFailed(_ context.Context, postID, userID int64, fl models.PostFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok || p.UserID != userID {
		return repository.ErrNotFound
	}
	p.Status = models.PostStatusFailed
	p.RetryCount = fl.RetryCount
	p.ErrorMessage = fl.Message
	p.ErrorDetails = fl.Details
	return nil
}

type fakeAccounts struct {
	mu          sync.Mutex
	accounts    map[int64]*models.SocialAccount
	deactivated []int64
	listErr     error
}

func newFakeAccounts(accs ...*models.SocialAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: map[int64]*models.SocialAccount{}}
	for _, a := range accs {
		cp := *a
		f.accounts[a.ID] = &cp
	}
	return f
}

func (f *fakeAccounts) get(id int64) models.SocialAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.accounts[id]
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) GetActiveByUserAndPlatform(_ context.Context, userID int64, platform models.Platform) (*models.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.UserID == userID && a.Platform == platform && a.IsActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) ListExpiring(_ context.Context, after, before time.Time, limit int) ([]*models.SocialAccount, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range f.accounts {
		if a.IsActive && a.TokenExpiresAt.After(after) && a.TokenExpiresAt.Before(before) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAccounts) SetToken(_ context.Context, id, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	a.AccessToken = accessToken
	if refreshToken != "" {
		a.RefreshToken = refreshToken
	}
	a.TokenExpiresAt = expiresAt
	return nil
}

func (f *fakeAccounts) Deactivate(_ context.Context, id, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	a.IsActive = false
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeNotifications struct {
	mu   sync.Mutex
	rows []*models.Notification
}

func (f *fakeNotifications) Create(_ context.Context, n *models.Notification) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	cp.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, &cp)
	return cp.ID, nil
}

func (f *fakeNotifications) GetByID(_ context.Context, id int64) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, nil
}

func (f *fakeNotifications) byType(kind models.NotificationType) []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.rows {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeNotifications) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type stubPublisher struct {
	mu       sync.Mutex
	platform models.Platform
	errs     []error
	id       string
	calls    int
	requests []publisher.Request
}

func (s *stubPublisher) Platform() models.Platform { return s.platform }
func (s *stubPublisher) Timeout() time.Duration    { return 5 * time.Second }

func (s *stubPublisher) Publish(_ context.Context, req publisher.Request) (*publisher.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &publisher.Result{PlatformPostID: s.id}, nil
}

func (s *stubPublisher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string, hint models.MediaKind) (*media.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &media.Media{Data: []byte("fake-bytes"), MIME: "image/png", Kind: hint, Name: ref}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released = append(l.released, key)
		return nil
	}, true, nil
}

var errDatabaseDown = errors.New("database is down")
