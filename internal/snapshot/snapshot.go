// Package snapshot exports the store as one JSON document and imports
// snapshots or legacy flat files back into an empty store.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

// ErrStoreNotEmpty is returned when importing into a store that has users.
var ErrStoreNotEmpty = errors.New("store is not empty")

// User is a user as stored in a snapshot. Unlike domain.User it carries the password hash.
type User struct {
	domain.User
	PasswordHash string `json:"passwordHash"`
}

// Snapshot is the full content of a store.
type Snapshot struct {
	Version     int                `json:"version"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Users       []User             `json:"users"`
	Downloads   []*domain.Download `json:"downloads"`
}

// Build reads every user and download record.
func Build(ctx context.Context, repos repository.Repositories) (*Snapshot, error) {
	snap := &Snapshot{
		Version:     FormatVersion,
		GeneratedAt: time.Now().UTC(),
		Users:       []User{},
		Downloads:   []*domain.Download{},
	}

	err := repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		users, err := repos.User.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		for _, u := range users {
			snap.Users = append(snap.Users, User{User: *u, PasswordHash: u.PasswordHash})
		}

		downloads, err := repos.Download.List(ctx, repository.DownloadListOptions{})
		if err != nil {
			return fmt.Errorf("failed to list downloads: %w", err)
		}
		if downloads != nil {
			snap.Downloads = downloads
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Write encodes s as indented JSON.
func (s *Snapshot) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// ImportResult counts imported records.
type ImportResult struct {
	Users     int
	Downloads int
}

// Import writes s into an empty store in one transaction, keeping every id.
func Import(ctx context.Context, repos repository.Repositories, s *Snapshot) (*ImportResult, error) {
	result := &ImportResult{}

	err := repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		count, err := repos.User.Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrStoreNotEmpty
		}

		for i := range s.Users {
			u := s.Users[i].User
			u.PasswordHash = s.Users[i].PasswordHash
			if u.ID <= 0 {
				return fmt.Errorf("user %q has no id", u.Username)
			}
			if !u.Role.IsValid() {
				return fmt.Errorf("user %q has invalid role %q", u.Username, u.Role)
			}
			if err := repos.User.Create(ctx, &u); err != nil {
				return fmt.Errorf("failed to import user %d: %w", u.ID, err)
			}
			result.Users++
		}

		for _, d := range s.Downloads {
			if d.ID <= 0 {
				return fmt.Errorf("download record has no id")
			}
			if err := repos.Download.Create(ctx, d); err != nil {
				return fmt.Errorf("failed to import download %d: %w", d.ID, err)
			}
			result.Downloads++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
