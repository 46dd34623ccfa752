// Package postgres implements the storage interfaces directly against
// PostgreSQL, for deployments that talk to the database without going through
// the Supabase REST gateway.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- SoundStore --------------------------------------------------------------

func (s *Store) CreateSound(ctx context.Context, asset sound.Asset) (sound.Asset, error) {
	if err := asset.Validate(); err != nil {
		return sound.Asset{}, err
	}
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sounds (id, name, url, duration, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, asset.ID, asset.Name, asset.URL, asset.Duration, asset.UserID, asset.CreatedAt)
	if err != nil {
		return sound.Asset{}, err
	}
	return asset, nil
}

func (s *Store) GetSound(ctx context.Context, id string) (sound.Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, duration, user_id, created_at
		FROM sounds
		WHERE id = $1
	`, id)

	var a sound.Asset
	err := row.Scan(&a.ID, &a.Name, &a.URL, &a.Duration, &a.UserID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sound.Asset{}, sound.ErrNotFound
	}
	if err != nil {
		return sound.Asset{}, err
	}
	return a, nil
}

func (s *Store) ListSounds(ctx context.Context, userID string) ([]sound.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, duration, user_id, created_at
		FROM sounds
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sound.Asset, 0)
	for rows.Next() {
		var a sound.Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Duration, &a.UserID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListAllSounds(ctx context.Context) ([]sound.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, duration, user_id, created_at
		FROM sounds
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sound.Asset, 0)
	for rows.Next() {
		var a sound.Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Duration, &a.UserID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSound(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sounds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sound.ErrNotFound
	}
	return nil
}

// --- MixStore ----------------------------------------------------------------

func (s *Store) CreateMix(ctx context.Context, m mix.Mix) (mix.Mix, error) {
	if err := m.Validate(); err != nil {
		return mix.Mix{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mixes (id, name, sounds, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.Name, pq.Array(m.SoundIDs), m.UserID, m.CreatedAt)
	if err != nil {
		return mix.Mix{}, err
	}
	return m, nil
}

func (s *Store) GetMix(ctx context.Context, id string) (mix.Mix, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, sounds, user_id, created_at
		FROM mixes
		WHERE id = $1
	`, id)

	var m mix.Mix
	err := row.Scan(&m.ID, &m.Name, pq.Array(&m.SoundIDs), &m.UserID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mix.Mix{}, mix.ErrNotFound
	}
	if err != nil {
		return mix.Mix{}, err
	}
	return m, nil
}

func (s *Store) ListMixes(ctx context.Context, userID string) ([]mix.Mix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sounds, user_id, created_at
		FROM mixes
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]mix.Mix, 0)
	for rows.Next() {
		var m mix.Mix
		if err := rows.Scan(&m.ID, &m.Name, pq.Array(&m.SoundIDs), &m.UserID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMix(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM mixes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return mix.ErrNotFound
	}
	return nil
}
