// Package pagination implements keyset paging over (created_at, id).
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("invalid_cursor")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Limit clamps PageSize into [1, max], using def when unset.
func (p Pagination) Limit(def, max int) int {
	switch {
	case p.PageSize <= 0:
		return def
	case p.PageSize > max:
		return max
	default:
		return p.PageSize
	}
}

// Cursor points at the last row of a page. Rows sort newest first.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"ts"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(Cursor{ID: c.ID, CreatedAt: c.CreatedAt.UTC()})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Trim expects items fetched with limit+1 rows. It cuts the probe row and
// returns a token for the next page only when one exists.
func Trim[T any](items []*T, limit int, cursorOf func(*T) Cursor) ([]*T, PageInfo, error) {
	if limit <= 0 || len(items) <= limit {
		return items, PageInfo{}, nil
	}
	items = items[:limit]
	token, err := EncodeCursor(cursorOf(items[limit-1]))
	if err != nil {
		return nil, PageInfo{}, err
	}
	return items, PageInfo{NextPageToken: token, HasMore: true}, nil
}
