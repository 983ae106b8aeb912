// Package pagination encodes keyset cursors for newest-first listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last item of a page. The next page holds the items
// strictly older than it.
type Cursor struct {
	At time.Time
	ID string
}

// Encode returns the opaque form of a cursor positioned at (at, id).
func Encode(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. An empty string yields a nil cursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: id}, nil
}

// After reports whether an item at (at, id) belongs on a page following c,
// that is whether it sorts after c in (at DESC, id DESC) order. A nil
// cursor admits everything.
func (c *Cursor) After(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	if at.Equal(c.At) {
		return id < c.ID
	}
	return at.Before(c.At)
}

// Page trims items fetched with limit+1 back to limit and returns the
// cursor for the next page, empty when there is none.
func Page[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string) {
	if len(items) <= limit {
		return items, ""
	}
	items = items[:limit]
	at, id := key(items[len(items)-1])
	return items, Encode(at, id)
}
