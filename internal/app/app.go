// Package app assembles the Vidsnag server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/auth"
	"github.com/prn-tf/vidsnag/internal/config"
	"github.com/prn-tf/vidsnag/internal/extractor"
	"github.com/prn-tf/vidsnag/internal/handler"
	"github.com/prn-tf/vidsnag/internal/metrics"
	"github.com/prn-tf/vidsnag/internal/service"
	"github.com/prn-tf/vidsnag/internal/session"
)

// analyzeLockMargin is added to the extractor timeout to size the analyze lock.
const analyzeLockMargin = 30 * time.Second

// App is a fully wired server.
type App struct {
	Config  *config.Config
	Store   *Store
	Coord   *Coordination
	Metrics *metrics.Metrics

	Users     *service.UserService
	Sessions  *service.SessionService
	Downloads *service.DownloadService

	router *handler.Router
	logger zerolog.Logger
}

// Options tune New.
type Options struct {
	// Version is reported by /health.
	Version string

	// Extractor replaces the yt-dlp runner. Used by tests.
	Extractor extractor.Extractor
}

// New opens the store and coordination backends, applies migrations when
// configured, seeds the bootstrap admin and builds the services and router.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.Store = store

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	coord, err := OpenCoordination(ctx, cfg.Redis, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	a.Coord = coord

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	ext := opts.Extractor
	if ext == nil {
		ext = extractor.NewYTDLP(cfg.Extractor, logger, a.Metrics)
	}

	a.Users = service.NewUserService(store.Repos.User, coord.Locker, logger)
	a.Sessions = service.NewSessionService(a.Users, session.NewCacheStore(coord.Cache, cfg.Session.TTL), a.Metrics, logger)
	a.Downloads = service.NewDownloadService(store.Repos, ext, coord.Locker, a.Metrics,
		service.DownloadServiceConfig{LockTTL: cfg.Extractor.Timeout + analyzeLockMargin}, logger)

	admin, err := a.Users.EnsureBootstrapAdmin(ctx, service.BootstrapInput{
		Username:   cfg.Bootstrap.AdminUsername,
		Password:   cfg.Bootstrap.AdminPassword,
		DailyLimit: cfg.Bootstrap.AdminDailyLimit,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to seed bootstrap admin: %w", err)
	}
	if admin != nil {
		logger.Warn().Str("username", admin.Username).Msg("seeded bootstrap admin; change its password")
	}

	routerCfg := handler.RouterConfig{
		UserService:     a.Users,
		SessionService:  a.Sessions,
		DownloadService: a.Downloads,
		Auth: auth.Config{
			CookieName: cfg.Session.CookieName,
			TTL:        cfg.Session.TTL,
			Secure:     cfg.Session.SecureCookie,
			Logger:     logger,
		},
		MaxBodySize: cfg.Server.MaxBodySize,
		Health:      store.Health,
		Version:     opts.Version,
		Metrics:     a.Metrics,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimitCache = coord.Cache
		routerCfg.RateLimit = handler.RateLimitConfig{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		}
	}
	a.router = handler.NewRouter(routerCfg)

	return a, nil
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler {
	return a.router.Handler()
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases every backend.
func (a *App) Close() error {
	var errs []error
	if a.Coord != nil {
		errs = append(errs, a.Coord.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
