package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// InsertImage records a persisted image in the registry.
func (s *Store) InsertImage(ctx context.Context, img *gateway.HostedImage) error {
	var accessed, expires any
	if img.AccessedAt != nil {
		accessed = img.AccessedAt.UTC().Format(time.RFC3339)
	}
	if img.ExpiresAt != nil {
		expires = img.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO hosted_images
		 (id, user_id, prediction_id, path, size, content_type, created_at, accessed_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.UserID, img.PredictionID, img.Path, img.Size, img.ContentType,
		img.CreatedAt.UTC().Format(time.RFC3339), accessed, expires,
	)
	return err
}

// GetImage returns a registry row by image ID.
func (s *Store) GetImage(ctx context.Context, id string) (*gateway.HostedImage, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, prediction_id, path, size, content_type, created_at, accessed_at, expires_at
		 FROM hosted_images WHERE id = ?`, id)
	return scanImage(row)
}

// TouchImageAccess stamps the row's accessed_at with the current time.
func (s *Store) TouchImageAccess(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE hosted_images SET accessed_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

// ListImagesByUser returns a user's images, newest first.
func (s *Store) ListImagesByUser(ctx context.Context, userID string) ([]gateway.HostedImage, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, prediction_id, path, size, content_type, created_at, accessed_at, expires_at
		 FROM hosted_images WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectImages(rows)
}

// ListExpiredImages returns images older than olderThan plus, when
// maxPerUser > 0, rows beyond each user's maxPerUser newest.
func (s *Store) ListExpiredImages(ctx context.Context, olderThan time.Time, maxPerUser int) ([]gateway.HostedImage, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)
	query := `SELECT id, user_id, prediction_id, path, size, content_type, created_at, accessed_at, expires_at
		 FROM hosted_images WHERE created_at < ?`
	args := []any{cutoff}
	if maxPerUser > 0 {
		query += ` UNION
		 SELECT id, user_id, prediction_id, path, size, content_type, created_at, accessed_at, expires_at
		 FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY created_at DESC) AS rn
		       FROM hosted_images)
		 WHERE rn > ?`
		args = append(args, maxPerUser)
	}

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectImages(rows)
}

// DeleteImage removes a registry row.
func (s *Store) DeleteImage(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `DELETE FROM hosted_images WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*gateway.HostedImage, error) {
	var img gateway.HostedImage
	var created string
	var accessed, expires sql.NullString
	err := row.Scan(&img.ID, &img.UserID, &img.PredictionID, &img.Path, &img.Size,
		&img.ContentType, &created, &accessed, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t, e := time.Parse(time.RFC3339, created); e == nil {
		img.CreatedAt = t
	}
	if accessed.Valid {
		if t, e := time.Parse(time.RFC3339, accessed.String); e == nil {
			img.AccessedAt = &t
		}
	}
	if expires.Valid {
		if t, e := time.Parse(time.RFC3339, expires.String); e == nil {
			img.ExpiresAt = &t
		}
	}
	return &img, nil
}

func collectImages(rows *sql.Rows) ([]gateway.HostedImage, error) {
	var out []gateway.HostedImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}
