package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"draftcell/internal/models"
)

const imageColumns = "key, filename, media_type, size_bytes, sha256, blob_key, created_at"

// ImageExists reports whether an image row exists for key.
func (s *Store) ImageExists(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM images WHERE key = ? LIMIT 1", key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateImage inserts image metadata. An empty Key is filled with a fresh
// image key.
func (s *Store) CreateImage(ctx context.Context, image *models.LocalImage) error {
	if image == nil {
		return fmt.Errorf("image is required")
	}
	if strings.TrimSpace(image.BlobKey) == "" {
		return fmt.Errorf("image blob key is required")
	}
	if image.Key == "" {
		key, err := GenerateImageKey(func(id string) (bool, error) {
			return s.ImageExists(ctx, id)
		})
		if err != nil {
			return err
		}
		image.Key = models.LocalImageKey(key)
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO images (`+imageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(image.Key),
		image.Filename,
		image.MediaType,
		image.SizeBytes,
		image.SHA256,
		image.BlobKey,
		dbFormatTime(image.CreatedAt),
	)
	return err
}

// GetImage returns image metadata, or nil when key is unknown.
func (s *Store) GetImage(ctx context.Context, key string) (*models.LocalImage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE key = ?`, key)
	return scanImage(row)
}

// ListImages returns all images, oldest first.
func (s *Store) ListImages(ctx context.Context) ([]models.LocalImage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+imageColumns+` FROM images ORDER BY created_at ASC, key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LocalImage
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *image)
	}
	return out, rows.Err()
}

func scanImage(scanner interface {
	Scan(dest ...any) error
}) (*models.LocalImage, error) {
	var (
		image     models.LocalImage
		key       string
		createdAt string
	)
	err := scanner.Scan(&key, &image.Filename, &image.MediaType, &image.SizeBytes, &image.SHA256, &image.BlobKey, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	image.Key = models.LocalImageKey(key)
	if image.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse image created_at: %w", err)
	}
	return &image, nil
}
