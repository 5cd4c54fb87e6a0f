// Package persistence contains helpers shared by store implementations.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/activitysync/internal/domain"
)

// ErrInvalidCursor is returned for page tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// pageToken is the opaque keyset position handed to API clients.
type pageToken struct {
	Start time.Time `json:"s"`
	ID    int64     `json:"i"`
}

// EncodeCursor turns a keyset position into a URL-safe page token. A nil cursor
// encodes to "", meaning there is no further page.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw, err := json.Marshal(pageToken{Start: c.StartDate.UTC(), ID: c.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor reverses EncodeCursor. A blank token yields a nil cursor.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if pt.ID <= 0 || pt.Start.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{StartDate: pt.Start, ID: pt.ID}, nil
}

// Before reports whether a comes after the cursor when listing newest first
// (start_date DESC, id DESC).
func Before(a domain.Activity, c *domain.Cursor) bool {
	if c == nil {
		return true
	}
	if a.StartDate.Equal(c.StartDate) {
		return a.ID < c.ID
	}
	return a.StartDate.Before(c.StartDate)
}
