package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/vidsnag/internal/auth"
	"github.com/prn-tf/vidsnag/internal/cache/memory"
	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/extractor"
	"github.com/prn-tf/vidsnag/internal/lock"
	"github.com/prn-tf/vidsnag/internal/metrics"
	"github.com/prn-tf/vidsnag/internal/repository/sqlite"
	"github.com/prn-tf/vidsnag/internal/service"
	"github.com/prn-tf/vidsnag/internal/session"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubExtractor) Extract(ctx context.Context, url string) (*extractor.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &extractor.Result{
		Title:     "Clip " + url,
		Thumbnail: "https://img.example.com/t.jpg",
		Formats:   []domain.Format{{URL: "https://cdn.example.com/v.mp4", Ext: "mp4", Quality: "720p", Label: "22"}},
	}, nil
}

func (s *stubExtractor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	server *httptest.Server
	db     *sqlite.DB
	ext    *stubExtractor
	users  *service.UserService
}

type envOptions struct {
	rateLimit RateLimitConfig
}

func newTestEnv(t *testing.T, opts ...envOptions) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "vidsnag.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	repos := db.Repositories()

	cache := memory.NewCache()
	t.Cleanup(cache.Stop)
	locker := lock.NewMemoryLocker()
	t.Cleanup(locker.Stop)
	m := metrics.New("test")

	users := service.NewUserService(repos.User, locker, logger)
	_, err = users.EnsureBootstrapAdmin(ctx, service.BootstrapInput{
		Username:   "Admin",
		Password:   "Admin123",
		DailyLimit: domain.AdminDailyLimit,
	})
	require.NoError(t, err)

	sessions := service.NewSessionService(users, session.NewCacheStore(cache, time.Hour), m, logger)
	ext := &stubExtractor{}
	downloads := service.NewDownloadService(*repos, ext, locker, m, service.DownloadServiceConfig{}, logger)

	cfg := RouterConfig{
		UserService:     users,
		SessionService:  sessions,
		DownloadService: downloads,
		Auth:            auth.Config{CookieName: "vidsnag_session", TTL: time.Hour, Logger: logger},
		MaxBodySize:     1 << 20,
		Health:          db,
		Version:         "test",
		Metrics:         m,
		Logger:          logger,
	}
	if len(opts) > 0 && opts[0].rateLimit.Requests > 0 {
		cfg.RateLimitCache = cache
		cfg.RateLimit = opts[0].rateLimit
	}

	srv := httptest.NewServer(NewRouter(cfg).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, db: db, ext: ext, users: users}
}

// client is an HTTP client with its own cookie jar.
type client struct {
	t    *testing.T
	http *http.Client
	base string
}

func (e *testEnv) client(t *testing.T) *client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, http: &http.Client{Jar: jar}, base: e.server.URL}
}

func (c *client) do(method, path string, body any) (int, []byte) {
	c.t.Helper()

	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(c.t, err)
			r = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, data
}

func (c *client) login(username, password string) {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/login", map[string]string{"username": username, "password": password})
	require.Equal(c.t, http.StatusOK, status, string(body))
}

func message(t *testing.T, body []byte) string {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Message
}

func decodeUser(t *testing.T, body []byte) domain.User {
	t.Helper()
	var u domain.User
	require.NoError(t, json.Unmarshal(body, &u), string(body))
	return u
}

func TestLoginLogoutMe(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	status, body := c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", strings.TrimSpace(string(body)))

	status, body = c.do(http.MethodPost, "/api/login", map[string]string{"username": "Admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", message(t, body))

	status, body = c.do(http.MethodPost, "/api/login", map[string]string{"username": "ghost", "password": "Admin123"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", message(t, body))

	status, _ = c.do(http.MethodPost, "/api/login", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = c.do(http.MethodPost, "/api/login", map[string]string{"username": "Admin", "password": "Admin123"})
	require.Equal(t, http.StatusOK, status)
	admin := decodeUser(t, body)
	assert.Equal(t, int64(1), admin.ID)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.NotContains(t, string(body), "password")

	status, body = c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Admin", decodeUser(t, body).Username)

	status, body = c.do(http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true}`, string(body))

	status, _ = c.do(http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Logout without a session still succeeds.
	status, _ = env.client(t).do(http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminUserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t)
	admin.login("Admin", "Admin123")

	status, body := admin.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusCreated, status, string(body))
	bob := decodeUser(t, body)
	assert.Equal(t, int64(2), bob.ID)
	assert.Equal(t, domain.RoleUser, bob.Role)
	assert.Equal(t, domain.DefaultDailyLimit, bob.DailyLimit)
	assert.Zero(t, bob.UsedToday)
	assert.False(t, bob.IsBanned)

	status, body = admin.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "bob", "password": "pw"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Username already exists", message(t, body))

	status, _ = admin.do(http.MethodPost, "/api/admin/users", map[string]any{"username": "x", "password": "pw", "role": "root"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = admin.do(http.MethodPost, "/api/admin/users", map[string]any{"username": "x", "password": "pw", "dailyLimit": -1})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = admin.do(http.MethodPost, "/api/admin/users", map[string]any{"username": "", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = admin.do(http.MethodGet, "/api/admin/users", nil)
	require.Equal(t, http.StatusOK, status)
	var list []domain.User
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Admin", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)

	status, body = admin.do(http.MethodPatch, "/api/admin/users/2", map[string]any{"banUntil": "2030-05-01", "dailyLimit": 3})
	require.Equal(t, http.StatusOK, status, string(body))
	updated := decodeUser(t, body)
	require.NotNil(t, updated.BanUntil)
	assert.Equal(t, time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC), updated.BanUntil.UTC())
	assert.Equal(t, 3, updated.DailyLimit)
	assert.False(t, updated.IsBanned, "banUntil alone does not ban")

	status, body = admin.do(http.MethodPatch, "/api/admin/users/2", map[string]any{"banUntil": nil})
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, decodeUser(t, body).BanUntil)

	status, _ = admin.do(http.MethodPatch, "/api/admin/users/2", map[string]any{"banUntil": "next week"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = admin.do(http.MethodPatch, "/api/admin/users/99", map[string]any{"isBanned": true})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = admin.do(http.MethodPatch, "/api/admin/users/abc", map[string]any{"isBanned": true})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = admin.do(http.MethodDelete, "/api/admin/users/2", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = admin.do(http.MethodDelete, "/api/admin/users/2", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.users.Create(context.Background(), service.CreateUserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	anon := env.client(t)
	status, body := anon.do(http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", message(t, body))

	bob := env.client(t)
	bob.login("bob", "pw")
	status, body = bob.do(http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Admin only", message(t, body))
}

func TestAnalyzeAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.users.Create(ctx, service.CreateUserInput{Username: "bob", Password: "pw", DailyLimit: intPtr(25)})
	require.NoError(t, err)
	_, err = env.users.Create(ctx, service.CreateUserInput{Username: "carol", Password: "pw"})
	require.NoError(t, err)

	bob := env.client(t)
	bob.login("bob", "pw")

	status, body := bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": "ftp://example.com/x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 0, env.ext.Calls())

	for i := 0; i < 22; i++ {
		status, body = bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": fmt.Sprintf("https://example.com/v%d", i)})
		require.Equal(t, http.StatusOK, status, string(body))
	}
	var result service.AnalyzeOutput
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "Clip https://example.com/v21", result.Title)
	require.Len(t, result.Formats, 1)

	carol := env.client(t)
	carol.login("carol", "pw")
	status, _ = carol.do(http.MethodPost, "/api/analyze", map[string]string{"url": "https://example.com/c"})
	require.Equal(t, http.StatusOK, status)

	status, body = bob.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, status)
	var history []domain.Download
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, domain.HistoryLimit)
	assert.Equal(t, "https://example.com/v21", history[0].OriginalURL)
	for _, d := range history {
		assert.Equal(t, int64(2), d.UserID)
	}

	status, body = carol.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)

	admin := env.client(t)
	admin.login("Admin", "Admin123")
	status, body = admin.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, domain.HistoryLimit)
	assert.Equal(t, "https://example.com/c", history[0].OriginalURL)

	status, body = bob.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	me := decodeUser(t, body)
	assert.Equal(t, 22, me.UsedToday)
	assert.NotNil(t, me.LastUsedAt)
}

func TestAnalyzeQuota(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.users.Create(context.Background(), service.CreateUserInput{Username: "bob", Password: "pw", DailyLimit: intPtr(1)})
	require.NoError(t, err)

	bob := env.client(t)
	bob.login("bob", "pw")

	status, _ := bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": "https://example.com/a"})
	require.Equal(t, http.StatusOK, status)

	status, body := bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": "https://example.com/b"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Daily limit reached.", message(t, body))
	assert.Equal(t, 1, env.ext.Calls())

	status, body = bob.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, status)
	var history []domain.Download
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 1)
}

func TestPatchZeroLimitBlocksAnalyze(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t)
	admin.login("Admin", "Admin123")

	status, _ := admin.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = admin.do(http.MethodPatch, "/api/admin/users/2", map[string]any{"dailyLimit": 0})
	require.Equal(t, http.StatusOK, status)

	bob := env.client(t)
	bob.login("bob", "pw")
	status, body := bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": "https://example.com/a"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Daily limit reached.", message(t, body))
	assert.Equal(t, 0, env.ext.Calls())
}

func TestAnalyzeExtractorFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ext.err = &extractor.Error{Reason: "exit", Err: fmt.Errorf("exit status 1")}
	_, err := env.users.Create(context.Background(), service.CreateUserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	bob := env.client(t)
	bob.login("bob", "pw")
	status, body := bob.do(http.MethodPost, "/api/analyze", map[string]string{"url": "https://example.com/a"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Failed to process video.", message(t, body))

	status, body = bob.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decodeUser(t, body).UsedToday)

	status, body = bob.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestBanBlocksLoginAndSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t)
	admin.login("Admin", "Admin123")
	status, _ := admin.do(http.MethodPost, "/api/admin/users", map[string]string{"username": "bob", "password": "pw"})
	require.Equal(t, http.StatusCreated, status)

	bob := env.client(t)
	bob.login("bob", "pw")

	status, _ = admin.do(http.MethodPatch, "/api/admin/users/2", map[string]any{"isBanned": true})
	require.Equal(t, http.StatusOK, status)

	status, body := bob.do(http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Banned", message(t, body))

	status, body = env.client(t).do(http.MethodPost, "/api/login", map[string]string{"username": "bob", "password": "pw"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Account banned", message(t, body))

	status, body = bob.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", strings.TrimSpace(string(body)))
}

func TestDeletedUserSessionIsStale(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.users.Create(context.Background(), service.CreateUserInput{Username: "bob", Password: "pw"})
	require.NoError(t, err)

	bob := env.client(t)
	bob.login("bob", "pw")
	require.NoError(t, env.users.Delete(context.Background(), 2))

	status, body := bob.do(http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", message(t, body))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	status, body := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy","database":"up","version":"test"}`, string(body))

	status, body = c.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "test_http_requests_total")

	require.NoError(t, env.db.Close())
	status, _ = c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestNotFoundIsJSON(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.client(t).do(http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", message(t, body))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, envOptions{rateLimit: RateLimitConfig{Requests: 3, Window: time.Minute}})
	c := env.client(t)

	for i := 0; i < 3; i++ {
		status, _ := c.do(http.MethodGet, "/api/me", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := c.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests", message(t, body))

	// Health is outside /api.
	status, _ = c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
}

func intPtr(v int) *int { return &v }
