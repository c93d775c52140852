package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/vidsnag/internal/domain"
)

// legacyDB is the layout of the old flat-file store: a JSON document
// preceded by a "//" comment marker.
type legacyDB struct {
	Users     []legacyUser     `json:"users"`
	Downloads []legacyDownload `json:"downloads"`
}

type legacyUser struct {
	ID         int64   `json:"id"`
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	Role       string  `json:"role"`
	DailyLimit *int    `json:"dailyLimit"`
	UsedToday  int     `json:"usedToday"`
	IsBanned   bool    `json:"isBanned"`
	BanUntil   *string `json:"banUntil"`
	LastUsedAt *string `json:"lastUsedAt"`
	CreatedAt  *string `json:"createdAt"`
}

type legacyDownload struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	OriginalURL string          `json:"originalUrl"`
	Title       string          `json:"title"`
	Thumbnail   string          `json:"thumbnail"`
	Formats     []domain.Format `json:"formats"`
	CreatedAt   string          `json:"createdAt"`
}

// ParseLegacy converts a legacy flat file into a Snapshot. Plaintext
// passwords are bcrypt-hashed; values that already are bcrypt hashes are kept.
// A file that cannot be parsed is an error.
func ParseLegacy(r io.Reader, cost int) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy file: %w", err)
	}

	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("//"))

	var db legacyDB
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("failed to parse legacy file: %w", err)
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		Version:     FormatVersion,
		GeneratedAt: now,
		Users:       make([]User, 0, len(db.Users)),
		Downloads:   make([]*domain.Download, 0, len(db.Downloads)),
	}

	for _, lu := range db.Users {
		u, err := convertLegacyUser(lu, now, cost)
		if err != nil {
			return nil, err
		}
		snap.Users = append(snap.Users, *u)
	}

	for _, ld := range db.Downloads {
		createdAt, err := parseLegacyTime(ld.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("download %d: %w", ld.ID, err)
		}
		formats := ld.Formats
		if formats == nil {
			formats = []domain.Format{}
		}
		snap.Downloads = append(snap.Downloads, &domain.Download{
			ID:          ld.ID,
			UserID:      ld.UserID,
			OriginalURL: ld.OriginalURL,
			Title:       ld.Title,
			Thumbnail:   ld.Thumbnail,
			Formats:     formats,
			CreatedAt:   createdAt,
		})
	}

	return snap, nil
}

func convertLegacyUser(lu legacyUser, now time.Time, cost int) (*User, error) {
	if lu.Username == "" {
		return nil, fmt.Errorf("user %d has no username", lu.ID)
	}

	hash := lu.Password
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		b, err := bcrypt.GenerateFromPassword([]byte(lu.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("user %d: failed to hash password: %w", lu.ID, err)
		}
		hash = string(b)
	}

	role := domain.RoleUser
	if lu.Role != "" {
		role = domain.Role(lu.Role)
	}

	limit := domain.DefaultDailyLimit
	if lu.DailyLimit != nil {
		limit = *lu.DailyLimit
	}

	u := &User{
		User: domain.User{
			ID:         lu.ID,
			Username:   lu.Username,
			Role:       role,
			IsBanned:   lu.IsBanned,
			DailyLimit: limit,
			UsedToday:  lu.UsedToday,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		PasswordHash: hash,
	}

	var err error
	if u.BanUntil, err = parseOptionalLegacyTime(lu.BanUntil); err != nil {
		return nil, fmt.Errorf("user %d banUntil: %w", lu.ID, err)
	}
	if u.LastUsedAt, err = parseOptionalLegacyTime(lu.LastUsedAt); err != nil {
		return nil, fmt.Errorf("user %d lastUsedAt: %w", lu.ID, err)
	}
	if created, err := parseOptionalLegacyTime(lu.CreatedAt); err != nil {
		return nil, fmt.Errorf("user %d createdAt: %w", lu.ID, err)
	} else if created != nil {
		u.CreatedAt = *created
	}

	return u, nil
}

func parseLegacyTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func parseOptionalLegacyTime(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	t, err := parseLegacyTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
