// Package supabase implements the storage interfaces against the Supabase
// PostgREST API.
package supabase

import (
	"context"
	"fmt"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage"
	sb "github.com/meloofy/meloofy/supabase"
)

// TokenProvider supplies the signed-in user's access token so row level
// security applies to every query. It returns "" when no session is active;
// queries then run under the anon role.
type TokenProvider func() string

// Store persists sounds and mixes through the Supabase REST API.
type Store struct {
	db          *sb.DatabaseClient
	soundsTable string
	mixesTable  string
	token       TokenProvider
}

var _ storage.Store = (*Store)(nil)

// Config names the backing tables.
type Config struct {
	SoundsTable string // defaults to "sounds"
	MixesTable  string // defaults to "mixes"
}

// New creates a Supabase-backed store.
func New(db *sb.DatabaseClient, cfg Config, token TokenProvider) *Store {
	if cfg.SoundsTable == "" {
		cfg.SoundsTable = "sounds"
	}
	if cfg.MixesTable == "" {
		cfg.MixesTable = "mixes"
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Store{
		db:          db,
		soundsTable: cfg.SoundsTable,
		mixesTable:  cfg.MixesTable,
		token:       token,
	}
}

func (s *Store) withToken(q *sb.QueryBuilder) *sb.QueryBuilder {
	if t := s.token(); t != "" {
		return q.WithToken(t)
	}
	return q
}

// SoundStore implementation ---------------------------------------------------

func (s *Store) CreateSound(ctx context.Context, asset sound.Asset) (sound.Asset, error) {
	if err := asset.Validate(); err != nil {
		return sound.Asset{}, err
	}

	var rows []sound.Asset
	q := s.withToken(s.db.From(s.soundsTable).Insert(asset))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return sound.Asset{}, fmt.Errorf("create sound: %w", err)
	}
	if len(rows) == 0 {
		return sound.Asset{}, fmt.Errorf("create sound: empty response")
	}
	return rows[0], nil
}

func (s *Store) GetSound(ctx context.Context, id string) (sound.Asset, error) {
	if id == "" {
		return sound.Asset{}, fmt.Errorf("id cannot be empty")
	}

	var rows []sound.Asset
	q := s.withToken(s.db.From(s.soundsTable).Select("*").Eq("id", id).Limit(1))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return sound.Asset{}, fmt.Errorf("get sound: %w", err)
	}
	if len(rows) == 0 {
		return sound.Asset{}, sound.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ListSounds(ctx context.Context, userID string) ([]sound.Asset, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var rows []sound.Asset
	q := s.withToken(s.db.From(s.soundsTable).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", sb.OrderDesc))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list sounds: %w", err)
	}
	return rows, nil
}

// ListAllSounds spans every user. RLS limits the result to what the active
// token may see; run it with the service role for a true full-table view.
func (s *Store) ListAllSounds(ctx context.Context) ([]sound.Asset, error) {
	var rows []sound.Asset
	q := s.withToken(s.db.From(s.soundsTable).
		Select("*").
		Order("created_at", sb.OrderDesc))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list all sounds: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteSound(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	var rows []sound.Asset
	q := s.withToken(s.db.From(s.soundsTable).Delete().Eq("id", id))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return fmt.Errorf("delete sound: %w", err)
	}
	if len(rows) == 0 {
		return sound.ErrNotFound
	}
	return nil
}

// MixStore implementation -----------------------------------------------------

func (s *Store) CreateMix(ctx context.Context, m mix.Mix) (mix.Mix, error) {
	if err := m.Validate(); err != nil {
		return mix.Mix{}, err
	}

	var rows []mix.Mix
	q := s.withToken(s.db.From(s.mixesTable).Insert(m))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return mix.Mix{}, fmt.Errorf("create mix: %w", err)
	}
	if len(rows) == 0 {
		return mix.Mix{}, fmt.Errorf("create mix: empty response")
	}
	return rows[0], nil
}

func (s *Store) GetMix(ctx context.Context, id string) (mix.Mix, error) {
	if id == "" {
		return mix.Mix{}, fmt.Errorf("id cannot be empty")
	}

	var rows []mix.Mix
	q := s.withToken(s.db.From(s.mixesTable).Select("*").Eq("id", id).Limit(1))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return mix.Mix{}, fmt.Errorf("get mix: %w", err)
	}
	if len(rows) == 0 {
		return mix.Mix{}, mix.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ListMixes(ctx context.Context, userID string) ([]mix.Mix, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var rows []mix.Mix
	q := s.withToken(s.db.From(s.mixesTable).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", sb.OrderDesc))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list mixes: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteMix(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	var rows []mix.Mix
	q := s.withToken(s.db.From(s.mixesTable).Delete().Eq("id", id))
	if err := q.ExecuteInto(ctx, &rows); err != nil {
		return fmt.Errorf("delete mix: %w", err)
	}
	if len(rows) == 0 {
		return mix.ErrNotFound
	}
	return nil
}
