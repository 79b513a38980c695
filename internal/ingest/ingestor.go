package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/mtr002/wishlist-jobs/internal/fetch"
	"github.com/mtr002/wishlist-jobs/internal/interfaces"
	"github.com/mtr002/wishlist-jobs/internal/logger"
	"github.com/mtr002/wishlist-jobs/internal/metrics"
	"github.com/mtr002/wishlist-jobs/internal/settings"
	"github.com/mtr002/wishlist-jobs/internal/storage"
)

var (
	ErrDisallowedMime = errors.New("disallowed mime")
	ErrNotImage       = errors.New("not an image")
)

// Downloader is satisfied by *fetch.Fetcher.
type Downloader interface {
	Download(ctx context.Context, url string, timeout time.Duration, maxBytes int64) (*fetch.Result, error)
}

// Result describes what ProcessWish did.
type Result struct {
	// Skipped is set when the wish left local image mode after it was queued.
	Skipped bool
	Image   interfaces.StoredImage
	// Deduplicated is set when a file with the same digest was already on disk.
	Deduplicated bool
}

// Ingestor downloads, validates and stores the image of one wish.
type Ingestor struct {
	wishes       interfaces.WishStore
	downloader   Downloader
	settings     settings.Source
	publicPrefix string
}

func New(wishes interfaces.WishStore, downloader Downloader, src settings.Source, publicPrefix string) *Ingestor {
	return &Ingestor{
		wishes:       wishes,
		downloader:   downloader,
		settings:     src,
		publicPrefix: publicPrefix,
	}
}

// ProcessWish runs the pipeline for wishID. The wish row is only written after every
// validation has passed; any earlier error leaves it untouched.
func (i *Ingestor) ProcessWish(ctx context.Context, wishID int64) (*Result, error) {
	log := logger.WithWishID(wishID)

	wish, err := i.wishes.LockForImage(ctx, wishID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("wish %d: %w", wishID, err)
		}
		return nil, fmt.Errorf("lock wish %d: %w", wishID, err)
	}
	if wish.ImageMode != interfaces.ImageModeLocal {
		log.Debug().Str("image_mode", string(wish.ImageMode)).Msg("Wish no longer in local image mode, skipping")
		return &Result{Skipped: true}, nil
	}

	tun, err := i.settings.Uploads(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve upload settings: %w", err)
	}

	dl, err := i.downloader.Download(ctx, wish.ImageURL, tun.Timeout, tun.MaxBytes)
	if err != nil {
		return nil, err
	}
	if !tun.Allows(dl.Mime) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowedMime, dl.Mime)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(dl.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	obj, err := storage.NewContentStore(tun.Dir, i.publicPrefix).Put(dl.Body, dl.Mime)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := interfaces.StoredImage{
		Path:   obj.RelPath,
		Mime:   dl.Mime,
		Bytes:  obj.Size,
		Width:  cfg.Width,
		Height: cfg.Height,
		Hash:   obj.Hash,
	}
	if err := i.wishes.SaveImage(ctx, wishID, img); err != nil {
		return nil, fmt.Errorf("save wish image: %w", err)
	}

	metrics.ImageBytesFetched.Observe(float64(obj.Size))
	log.Info().
		Str("path", img.Path).
		Str("mime", img.Mime).
		Int64("bytes", img.Bytes).
		Int("width", img.Width).
		Int("height", img.Height).
		Bool("dedup", obj.Existed).
		Msg("Wish image stored")

	return &Result{Image: img, Deduplicated: obj.Existed}, nil
}
