package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prn-tf/vidsnag/internal/domain"
	"github.com/prn-tf/vidsnag/internal/repository"
)

// downloadRepository implements repository.DownloadRepository.
type downloadRepository struct {
	db *DB
}

// NewDownloadRepository creates a new PostgreSQL download repository.
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

	q := r.db.conn(ctx)
	if d.ID != 0 {
		_, err = q.Exec(ctx, `
			INSERT INTO downloads (id, user_id, original_url, title, thumbnail, formats, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, d.ID, d.UserID, d.OriginalURL, d.Title, d.Thumbnail, encoded, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create download: %w", err)
		}
		_, err = q.Exec(ctx, `SELECT setval(pg_get_serial_sequence('downloads', 'id'), (SELECT MAX(id) FROM downloads))`)
		if err != nil {
			return fmt.Errorf("failed to advance download id sequence: %w", err)
		}
		return nil
	}

	err = q.QueryRow(ctx, `
		INSERT INTO downloads (user_id, original_url, title, thumbnail, formats, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, d.UserID, d.OriginalURL, d.Title, d.Thumbnail, encoded, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}

	return nil
}

// List returns download records newest first.
func (r *downloadRepository) List(ctx context.Context, opts repository.DownloadListOptions) ([]*domain.Download, error) {
	query := `SELECT id, user_id, original_url, title, thumbnail, formats, created_at FROM downloads`
	var args []any

	if opts.UserID != 0 {
		args = append(args, opts.UserID)
		query += fmt.Sprintf(` WHERE user_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := make([]*domain.Download, 0)
	for rows.Next() {
		d := &domain.Download{}
		var formats []byte
		if err := rows.Scan(&d.ID, &d.UserID, &d.OriginalURL, &d.Title, &d.Thumbnail, &formats, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		if err := json.Unmarshal(formats, &d.Formats); err != nil {
			return nil, fmt.Errorf("%w: download %d formats: %v", repository.ErrCorrupted, d.ID, err)
		}
		if d.Formats == nil {
			d.Formats = []domain.Format{}
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
