package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mtr002/wishlist-jobs/internal/interfaces"
)

// WishStore reads and updates the image columns of the wishes table.
type WishStore struct {
	db *sql.DB
}

func NewWishStore(db *sql.DB) *WishStore {
	return &WishStore{db: db}
}

// LockForImage reads the wish row under FOR UPDATE and commits straight away so the
// lock is not held across the download.
func (s *WishStore) LockForImage(ctx context.Context, id int64) (*interfaces.Wish, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		w         interfaces.Wish
		mode      string
		url       sql.NullString
		path      sql.NullString
		mime      sql.NullString
		status    sql.NullString
		hash      sql.NullString
		size      sql.NullInt64
		width     sql.NullInt64
		height    sql.NullInt64
		lastError sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, image_mode, image_url, image_path, image_mime, image_status, image_hash,
		       image_bytes, image_width, image_height, image_last_error
		FROM wishes
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&w.ID, &mode, &url, &path, &mime, &status, &hash, &size, &width, &height, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wish: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.ImageMode = interfaces.ImageMode(mode)
	w.ImageURL = url.String
	w.ImagePath = nullString(path)
	w.ImageMime = nullString(mime)
	w.ImageHash = nullString(hash)
	w.ImageLastError = nullString(lastError)
	if status.Valid {
		st := interfaces.ImageStatus(status.String)
		w.ImageStatus = &st
	}
	if size.Valid {
		w.ImageBytes = &size.Int64
	}
	if width.Valid {
		v := int(width.Int64)
		w.ImageWidth = &v
	}
	if height.Valid {
		v := int(height.Int64)
		w.ImageHeight = &v
	}
	return &w, nil
}

// SaveImage records a stored image and marks the wish ok.
func (s *WishStore) SaveImage(ctx context.Context, id int64, img interfaces.StoredImage) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE wishes
		SET image_path = $2, image_mime = $3, image_bytes = $4, image_width = $5, image_height = $6,
		    image_hash = $7, image_status = 'ok', image_last_error = NULL
		WHERE id = $1
	`, id, img.Path, img.Mime, img.Bytes, img.Width, img.Height, img.Hash)
	if err != nil {
		return fmt.Errorf("failed to save wish image: %w", err)
	}
	return requireRow(result)
}

// MarkImageFailed sets image_status to failed so seeding stops picking the wish up. A wish
// that has since left local mode or already holds a stored image is left untouched.
func (s *WishStore) MarkImageFailed(ctx context.Context, id int64, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE wishes SET image_status = 'failed', image_last_error = $2
		WHERE id = $1 AND image_mode = 'local' AND image_status IS DISTINCT FROM 'ok'
	`, id, interfaces.TruncateDiagnostic(reason))
	if err != nil {
		return fmt.Errorf("failed to mark wish image failed: %w", err)
	}
	n, err := rowsAffected(result)
	if err != nil || n > 0 {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wishes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up wish: %w", err)
	}
	if !exists {
		return interfaces.ErrNotFound
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func requireRow(result sql.Result) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

var _ interfaces.WishStore = (*WishStore)(nil)
