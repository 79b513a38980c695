// Package storage writes image bytes to a content-addressed directory tree:
// <root>/<first two hex chars of sha256>/<sha256>.<ext>.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Object describes where a blob lives after Put.
type Object struct {
	Hash    string
	AbsPath string
	// RelPath is relative to the public asset root, e.g. uploads/ab/ab12...ef.png.
	RelPath string
	Size    int64
	// Existed is true when an identical file was already present and nothing was written.
	Existed bool
}

// ContentStore is a write-once store keyed by the SHA-256 of the content.
type ContentStore struct {
	root         string
	publicPrefix string
}

// NewContentStore returns a store rooted at root. publicPrefix is prepended to the
// relative paths handed back to callers.
func NewContentStore(root, publicPrefix string) *ContentStore {
	return &ContentStore{
		root:         strings.TrimRight(root, "/"),
		publicPrefix: strings.Trim(publicPrefix, "/"),
	}
}

func (s *ContentStore) Root() string {
	return s.root
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildPath derives the absolute and public-relative path for digest and creates the
// shard directory if needed.
func (s *ContentStore) BuildPath(digest, ext string) (string, string, error) {
	if len(digest) < 2 {
		return "", "", fmt.Errorf("digest %q too short", digest)
	}
	shard := digest[:2]
	name := digest + "." + ext

	dir := filepath.Join(s.root, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create shard dir: %w", err)
	}

	rel := path.Join(shard, name)
	if s.publicPrefix != "" {
		rel = path.Join(s.publicPrefix, rel)
	}
	return filepath.Join(dir, name), rel, nil
}

// Put stores data under its digest. An existing file for the same digest is never
// overwritten.
func (s *ContentStore) Put(data []byte, mime string) (Object, error) {
	digest := Digest(data)
	abs, rel, err := s.BuildPath(digest, ExtForMime(mime))
	if err != nil {
		return Object{}, err
	}
	obj := Object{Hash: digest, AbsPath: abs, RelPath: rel, Size: int64(len(data))}

	if _, err := os.Stat(abs); err == nil {
		obj.Existed = true
		return obj, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Object{}, fmt.Errorf("stat %s: %w", abs, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+digest+".*.tmp")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Object{}, fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return Object{}, fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	// Concurrent writers of the same digest carry identical bytes, so last rename wins.
	if err := os.Rename(tmpName, abs); err != nil {
		return Object{}, fmt.Errorf("rename into %s: %w", abs, err)
	}
	return obj, nil
}

// ExtForMime maps an image MIME type to a file extension without the dot.
func ExtForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	default:
		return "bin"
	}
}
