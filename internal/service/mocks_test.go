package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/extractor"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// memStore backs the mock repositories with maps guarded by one mutex.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	downloads []*domain.Download
	nextUser  int64
	nextDL    int64

	createDownloadErr error
	incrementErr      error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]*domain.User), nextUser: 1, nextDL: 1}
}

func (m *memStore) repositories() repository.Repositories {
	return repository.Repositories{
		User:     &MockUserRepository{s: m},
		Download: &MockDownloadRepository{s: m},
		Tx:       &MockTxManager{s: m},
	}
}

func (m *memStore) addUser(u *domain.User) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextUser
	}
	if u.ID >= m.nextUser {
		m.nextUser = u.ID + 1
	}
	cp := *u
	m.users[u.ID] = &cp
	return u
}

func (m *memStore) user(id int64) *domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memStore) downloadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.downloads)
}

// MockUserRepository is a mock implementation of repository.UserRepository.
type MockUserRepository struct {
	s *memStore
}

func (r *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == user.Username {
			return domain.ErrUserAlreadyExists
		}
	}
	if user.ID == 0 {
		user.ID = r.s.nextUser
	}
	if user.ID >= r.s.nextUser {
		r.s.nextUser = user.ID + 1
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *MockUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if u := r.s.user(id); u != nil {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	cp := *user
	cp.UsedToday = cur.UsedToday
	cp.LastUsedAt = cur.LastUsedAt
	r.s.users[user.ID] = &cp
	return nil
}

func (r *MockUserRepository) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *MockUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	users := make([]*domain.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *MockUserRepository) Count(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.users)), nil
}

func (r *MockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

func (r *MockUserRepository) IncrementUsage(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.incrementErr != nil {
		return r.s.incrementErr
	}
	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.UsedToday >= u.DailyLimit {
		return domain.ErrQuotaExceeded
	}
	u.UsedToday++
	t := at
	u.LastUsedAt = &t
	return nil
}

func (r *MockUserRepository) ResetUsage(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.UsedToday = 0
	return nil
}

func (r *MockUserRepository) ResetAllUsage(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		u.UsedToday = 0
	}
	return int64(len(r.s.users)), nil
}

// MockDownloadRepository is a mock implementation of repository.DownloadRepository.
type MockDownloadRepository struct {
	s *memStore
}

func (r *MockDownloadRepository) Create(ctx context.Context, d *domain.Download) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createDownloadErr != nil {
		return r.s.createDownloadErr
	}
	if d.ID == 0 {
		d.ID = r.s.nextDL
	}
	r.s.nextDL = d.ID + 1
	cp := *d
	r.s.downloads = append(r.s.downloads, &cp)
	return nil
}

func (r *MockDownloadRepository) List(ctx context.Context, opts repository.DownloadListOptions) ([]*domain.Download, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Download
	for i := len(r.s.downloads) - 1; i >= 0; i-- {
		d := r.s.downloads[i]
		if opts.UserID != 0 && d.UserID != opts.UserID {
			continue
		}
		out = append(out, d)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// MockTxManager runs fn and rolls the store back when fn fails.
type MockTxManager struct {
	s *memStore
}

func (t *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.s.mu.Lock()
	users := make(map[int64]domain.User, len(t.s.users))
	for id, u := range t.s.users {
		users[id] = *u
	}
	n := len(t.s.downloads)
	t.s.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.s.mu.Lock()
		for id := range t.s.users {
			if u, ok := users[id]; ok {
				cp := u
				t.s.users[id] = &cp
			}
		}
		t.s.downloads = t.s.downloads[:n]
		t.s.mu.Unlock()
		return err
	}
	return nil
}

// fakeExtractor returns a canned result and counts calls.
type fakeExtractor struct {
	mu     sync.Mutex
	calls  int
	result *extractor.Result
	err    error

	// block, when set, is waited on before returning.
	block chan struct{}
	// started is signalled once per call when set.
	started chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) (*extractor.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &extractor.Result{
		Title:     "Test Video",
		Thumbnail: "https://img.example.com/t.jpg",
		Formats: []domain.Format{
			{URL: "https://cdn.example.com/v.mp4", Ext: "mp4", Quality: "720p", Label: "22 - 1280x720"},
		},
	}, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errBoom = errors.New("boom")
