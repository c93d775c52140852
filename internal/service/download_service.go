package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/extractor"
	"github.com/prn-tf/vidsnag/internal/lock"
	"github.com/prn-tf/vidsnag/internal/metrics"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// DefaultAnalyzeLockTTL is used when no lock TTL is configured.
const DefaultAnalyzeLockTTL = 3 * time.Minute

// DownloadServiceConfig tunes the analyze flow.
type DownloadServiceConfig struct {
	// LockTTL bounds how long one user's analysis may hold its lock.
	// It should exceed the extractor timeout.
	LockTTL time.Duration
}

// DownloadService runs the analyze flow and serves download history.
type DownloadService struct {
	repos     repository.Repositories
	extractor extractor.Extractor
	locker    lock.Locker
	metrics   *metrics.Metrics
	config    DownloadServiceConfig
	logger    zerolog.Logger
}

// NewDownloadService creates a new DownloadService. locker and m may be nil.
func NewDownloadService(
	repos repository.Repositories,
	ext extractor.Extractor,
	locker lock.Locker,
	m *metrics.Metrics,
	config DownloadServiceConfig,
	logger zerolog.Logger,
) *DownloadService {
	if locker == nil {
		locker = lock.NewNoOpLocker()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultAnalyzeLockTTL
	}
	return &DownloadService{
		repos:     repos,
		extractor: ext,
		locker:    locker,
		metrics:   m,
		config:    config,
		logger:    logger.With().Str("service", "download").Logger(),
	}
}

// AnalyzeInput is one analyze request of an authenticated user.
type AnalyzeInput struct {
	User *domain.User
	URL  string
}

// AnalyzeOutput is returned to the client on success.
type AnalyzeOutput struct {
	Title     string          `json:"title"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	Formats   []domain.Format `json:"formats"`

	// Download is the stored record.
	Download *domain.Download `json:"-"`
}

// Analyze resolves a URL into formats, records it and consumes one unit of quota.
//
// The extractor is never run while the quota is exhausted. Only one analysis
// per user runs at a time; a concurrent call fails with ErrAnalysisInProgress.
// The record insert and the usage increment commit together or not at all.
func (s *DownloadService) Analyze(ctx context.Context, input AnalyzeInput) (*AnalyzeOutput, error) {
	if input.User == nil {
		return nil, ErrUnauthenticated
	}

	rawURL, err := validateVideoURL(input.URL)
	if err != nil {
		s.metrics.ObserveAnalyze(metrics.OutcomeInvalid)
		return nil, err
	}

	logger := s.logger.With().Int64("user_id", input.User.ID).Str("url", rawURL).Logger()

	if !input.User.HasQuota() {
		s.metrics.ObserveAnalyze(metrics.OutcomeQuotaExceeded)
		logger.Info().Int("daily_limit", input.User.DailyLimit).Msg("daily limit reached")
		return nil, ErrQuotaExceeded
	}

	lease, err := s.locker.TryAcquire(ctx, lock.Keys.AnalyzeUser(input.User.ID), s.config.LockTTL)
	if errors.Is(err, lock.ErrHeld) {
		s.metrics.ObserveAnalyze(metrics.OutcomeInProgress)
		return nil, ErrAnalysisInProgress
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to acquire analyze lock")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			logger.Warn().Err(err).Msg("failed to release analyze lock")
		}
	}()

	// The caller's copy may be stale once the lock is ours.
	user, err := s.repos.User.GetByID(ctx, input.User.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		logger.Error().Err(err).Msg("failed to reload user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !user.CanAuthenticate() {
		return nil, ErrUserBanned
	}
	if !user.HasQuota() {
		s.metrics.ObserveAnalyze(metrics.OutcomeQuotaExceeded)
		return nil, ErrQuotaExceeded
	}

	result, err := s.extractor.Extract(ctx, rawURL)
	if err != nil {
		s.metrics.ObserveAnalyze(metrics.OutcomeExtractionFailed)
		logger.Warn().Err(err).Str("reason", extractor.ReasonOf(err)).Msg("extraction failed")
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	download := domain.NewDownload(user.ID, rawURL, result.Title, result.Thumbnail, result.Formats)
	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Download.Create(ctx, download); err != nil {
			return err
		}
		return s.repos.User.IncrementUsage(ctx, user.ID, download.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			s.metrics.ObserveAnalyze(metrics.OutcomeQuotaExceeded)
			return nil, ErrQuotaExceeded
		}
		s.metrics.ObserveAnalyze(metrics.OutcomeRecordFailed)
		logger.Error().Err(err).Msg("failed to record download")
		return nil, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}

	s.metrics.ObserveAnalyze(metrics.OutcomeSuccess)
	logger.Info().
		Int64("download_id", download.ID).
		Int("formats", len(download.Formats)).
		Int("used_today", user.UsedToday+1).
		Msg("video analyzed")

	return &AnalyzeOutput{
		Title:     download.Title,
		Thumbnail: download.Thumbnail,
		Formats:   download.Formats,
		Download:  download,
	}, nil
}

// History returns the newest records visible to user: all records for
// admins, the user's own otherwise. At most domain.HistoryLimit are returned.
func (s *DownloadService) History(ctx context.Context, user *domain.User) ([]*domain.Download, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}

	opts := repository.DownloadListOptions{Limit: domain.HistoryLimit}
	if !user.IsAdmin() {
		opts.UserID = user.ID
	}

	downloads, err := s.repos.Download.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to list downloads")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if downloads == nil {
		downloads = []*domain.Download{}
	}
	return downloads, nil
}

// validateVideoURL accepts absolute http and https URLs with a host.
func validateVideoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}
	return raw, nil
}
