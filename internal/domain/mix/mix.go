// Package mix defines the mix record: a named, ordered selection of existing
// sound assets. No audio rendering happens anywhere; a mix is metadata only.
package mix

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a mix does not exist.
var ErrNotFound = errors.New("mix not found")

// Mix references up to a configured number of sound assets owned by the same
// user.
type Mix struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	SoundIDs  []string  `json:"sounds"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Validate checks the fields required before an insert.
func (m Mix) Validate() error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if m.UserID == "" {
		return errors.New("user_id is required")
	}
	if len(m.SoundIDs) == 0 {
		return errors.New("at least one sound id is required")
	}
	return nil
}
