package service

import (
	"context"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type fakeAccounts struct {
	mu          sync.Mutex
	accounts    map[int64]*models.SocialAccount
	deactivated []int64
	setTokens   []setTokenCall
	setErr      error
}

type setTokenCall struct {
	ID           int64
	UserID       int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func newFakeAccounts(accs ...*models.SocialAccount) *fakeAccounts {
	f := &fakeAccounts{accounts: map[int64]*models.SocialAccount{}}
	for _, a := range accs {
		cp := *a
		f.accounts[a.ID] = &cp
	}
	return f
}

func (f *fakeAccounts) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range f.accounts {
		if a.IsActive && a.TokenExpiresAt.After(after) && a.TokenExpiresAt.Before(before) && len(out) < limit {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) SetToken(_ context.Context, id, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	a, ok := f.accounts[id]
	if !ok || a.UserID != userID {
		return repository.ErrNotFound
	}
	f.setTokens = append(f.setTokens, setTokenCall{id, userID, accessToken, refreshToken, expiresAt})
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
	mu     sync.Mutex
	rows   []*models.Notification
	nextID int64
	err    error
}

func (f *fakeNotifications) Create(_ context.Context, n *models.Notification) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	cp := *n
	cp.ID = f.nextID
	f.rows = append(f.rows, &cp)
	return cp.ID, nil
}

func (f *fakeNotifications) GetByID(_ context.Context, id int64) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.ID == id {
			cp := *n
			return &cp, nil
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

type fakeUsers map[int64]*models.User

func (f fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	return f[id], nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (f *fakeEnqueuer) EnqueueNotificationEmail(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}
