package interfaces

import "context"

// ImageMode controls how a wish's image is served.
type ImageMode string

const (
	ImageModeNone  ImageMode = "none"
	ImageModeLink  ImageMode = "link"
	ImageModeLocal ImageMode = "local"
)

// ImageStatus tracks local image processing for a wish. A nil *ImageStatus means unset.
type ImageStatus string

const (
	ImageStatusPending ImageStatus = "pending"
	ImageStatusOK      ImageStatus = "ok"
	ImageStatusFailed  ImageStatus = "failed"
)

// Wish holds the image fields of a wish row. The row itself is owned by the wishlist app.
type Wish struct {
	ID             int64        `json:"id"`
	ImageMode      ImageMode    `json:"image_mode"`
	ImageURL       string       `json:"image_url"`
	ImagePath      *string      `json:"image_path,omitempty"`
	ImageMime      *string      `json:"image_mime,omitempty"`
	ImageStatus    *ImageStatus `json:"image_status,omitempty"`
	ImageHash      *string      `json:"image_hash,omitempty"`
	ImageBytes     *int64       `json:"image_bytes,omitempty"`
	ImageWidth     *int         `json:"image_width,omitempty"`
	ImageHeight    *int         `json:"image_height,omitempty"`
	ImageLastError *string      `json:"image_last_error,omitempty"`
}

// NeedsImageFetch reports whether seeding should create work for this wish.
func (w *Wish) NeedsImageFetch() bool {
	if w.ImageMode != ImageModeLocal {
		return false
	}
	return w.ImageStatus == nil || *w.ImageStatus == ImageStatusPending
}

// StoredImage is written back to a wish after a successful ingest.
type StoredImage struct {
	Path   string
	Mime   string
	Bytes  int64
	Width  int
	Height int
	Hash   string
}

// WishStore is the narrow contract the ingest pipeline needs from the wishes table.
type WishStore interface {
	// LockForImage reads the wish under a row lock in a short transaction and commits
	// before returning. Returns ErrNotFound if the row is missing.
	LockForImage(ctx context.Context, id int64) (*Wish, error)
	SaveImage(ctx context.Context, id int64, img StoredImage) error
	MarkImageFailed(ctx context.Context, id int64, reason string) error
}
