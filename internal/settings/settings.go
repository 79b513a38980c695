package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Keys read from the settings table.
const (
	KeyUploadsTimeoutSec   = "uploads.timeoutSec"
	KeyUploadsMaxBytes     = "uploads.maxBytes"
	KeyUploadsAllowedMimes = "uploads.allowedMimes"
	KeyUploadsDir          = "uploads.dir"
)

// Uploads are the tunables the ingest pipeline resolves for every job.
type Uploads struct {
	Timeout      time.Duration
	MaxBytes     int64
	AllowedMimes []string
	Dir          string
}

// DefaultUploads returns the values used when a key is absent.
func DefaultUploads() Uploads {
	return Uploads{
		Timeout:      15 * time.Second,
		MaxBytes:     5 * 1024 * 1024,
		AllowedMimes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		Dir:          "./public/uploads",
	}
}

// Allows reports whether mime is in the allow-list.
func (u Uploads) Allows(mime string) bool {
	for _, m := range u.AllowedMimes {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// Source resolves upload tunables.
type Source interface {
	Uploads(ctx context.Context) (Uploads, error)
}

// Static always returns the same values.
type Static Uploads

func (s Static) Uploads(context.Context) (Uploads, error) {
	return Uploads(s), nil
}

// DBSource reads key/value/type rows from the settings table on every call, so edits
// made by the admin UI apply to the next job.
type DBSource struct {
	db       *sql.DB
	defaults Uploads
}

func NewDBSource(db *sql.DB, defaults Uploads) *DBSource {
	return &DBSource{db: db, defaults: defaults}
}

func (s *DBSource) Uploads(ctx context.Context) (Uploads, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, type FROM settings WHERE key LIKE 'uploads.%'`)
	if err != nil {
		return Uploads{}, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]any)
	for rows.Next() {
		var key, value, typ string
		if err := rows.Scan(&key, &value, &typ); err != nil {
			return Uploads{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		v, err := ParseValue(value, typ)
		if err != nil {
			return Uploads{}, fmt.Errorf("setting %s: %w", key, err)
		}
		values[key] = v
	}
	if err := rows.Err(); err != nil {
		return Uploads{}, fmt.Errorf("error iterating settings: %w", err)
	}

	return Resolve(values, s.defaults)
}

// ParseValue converts a stored string according to its declared type.
func ParseValue(value, typ string) (any, error) {
	switch typ {
	case "int":
		return cast.ToInt64E(strings.TrimSpace(value))
	case "bool":
		return cast.ToBoolE(strings.TrimSpace(value))
	case "json":
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return v, nil
	default:
		return value, nil
	}
}

// Resolve applies values over defaults. Absent or empty keys keep their default.
func Resolve(values map[string]any, defaults Uploads) (Uploads, error) {
	u := defaults

	if v, ok := values[KeyUploadsTimeoutSec]; ok {
		sec, err := cast.ToInt64E(v)
		if err != nil {
			return Uploads{}, fmt.Errorf("%s: %w", KeyUploadsTimeoutSec, err)
		}
		if sec > 0 {
			u.Timeout = time.Duration(sec) * time.Second
		}
	}
	if v, ok := values[KeyUploadsMaxBytes]; ok {
		n, err := cast.ToInt64E(v)
		if err != nil {
			return Uploads{}, fmt.Errorf("%s: %w", KeyUploadsMaxBytes, err)
		}
		if n > 0 {
			u.MaxBytes = n
		}
	}
	if v, ok := values[KeyUploadsAllowedMimes]; ok {
		mimes, err := toStringList(v)
		if err != nil {
			return Uploads{}, fmt.Errorf("%s: %w", KeyUploadsAllowedMimes, err)
		}
		if len(mimes) > 0 {
			u.AllowedMimes = mimes
		}
	}
	if v, ok := values[KeyUploadsDir]; ok {
		if dir := strings.TrimSpace(cast.ToString(v)); dir != "" {
			u.Dir = dir
		}
	}
	return u, nil
}

// toStringList accepts a JSON array or a comma separated string.
func toStringList(v any) ([]string, error) {
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	list, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, m := range list {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out, nil
}
