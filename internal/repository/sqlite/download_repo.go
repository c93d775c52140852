package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// downloadRepository implements repository.DownloadRepository for SQLite.
type downloadRepository struct {
	db *DB
}

// NewDownloadRepository creates a new SQLite download repository.
func NewDownloadRepository(db *DB) repository.DownloadRepository {
	return &downloadRepository{db: db}
}

// Create stores a new download record.
func (r *downloadRepository) Create(ctx context.Context, d *domain.Download) error {
	formats := d.Formats
	if formats == nil {
		formats = []domain.Format{}
	}
	encoded, err := json.Marshal(formats)
	if err != nil {
		return fmt.Errorf("failed to encode formats: %w", err)
	}

	args := []any{d.UserID, d.OriginalURL, d.Title, d.Thumbnail, string(encoded), formatTime(d.CreatedAt)}
	query := `
		INSERT INTO downloads (user_id, original_url, title, thumbnail, formats, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if d.ID != 0 {
		query = `
			INSERT INTO downloads (id, user_id, original_url, title, thumbnail, formats, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		args = append([]any{d.ID}, args...)
	}

	result, err := r.db.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}

	if d.ID == 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		d.ID = id
	}

	return nil
}

// List returns download records newest first.
func (r *downloadRepository) List(ctx context.Context, opts repository.DownloadListOptions) ([]*domain.Download, error) {
	query := `SELECT id, user_id, original_url, title, thumbnail, formats, created_at FROM downloads`
	var args []any

	if opts.UserID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, opts.UserID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := make([]*domain.Download, 0)
	for rows.Next() {
		d := &domain.Download{}
		var formats, createdAt string
		if err := rows.Scan(&d.ID, &d.UserID, &d.OriginalURL, &d.Title, &d.Thumbnail, &formats, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		if err := json.Unmarshal([]byte(formats), &d.Formats); err != nil {
			return nil, fmt.Errorf("%w: download %d formats: %v", repository.ErrCorrupted, d.ID, err)
		}
		if d.Formats == nil {
			d.Formats = []domain.Format{}
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating downloads: %w", err)
	}

	return downloads, nil
}

// Ensure downloadRepository implements repository.DownloadRepository.
var _ repository.DownloadRepository = (*downloadRepository)(nil)
