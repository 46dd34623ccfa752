// Package sound defines the stored audio clip metadata record.
package sound

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a sound asset does not exist.
var ErrNotFound = errors.New("sound not found")

// Asset describes one stored audio clip. The URL is public and immutable once
// issued: it must resolve to the exact bytes uploaded for this record.
type Asset struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Duration  *float64  `json:"duration,omitempty"` // seconds, nil when unknown
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the fields required before an insert.
func (a Asset) Validate() error {
	if a.Name == "" {
		return errors.New("name is required")
	}
	if a.URL == "" {
		return errors.New("url is required")
	}
	if a.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}
