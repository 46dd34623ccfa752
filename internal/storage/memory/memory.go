// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and as the fake backend behind
// the CLI's offline mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage"
)

// Store is an in-memory SoundStore and MixStore.
type Store struct {
	mu     sync.RWMutex
	sounds map[string]sound.Asset
	mixes  map[string]mix.Mix
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sounds: make(map[string]sound.Asset),
		mixes:  make(map[string]mix.Mix),
	}
}

// SoundStore implementation ---------------------------------------------------

func (s *Store) CreateSound(_ context.Context, asset sound.Asset) (sound.Asset, error) {
	if err := asset.Validate(); err != nil {
		return sound.Asset{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	s.sounds[asset.ID] = asset
	return asset, nil
}

func (s *Store) GetSound(_ context.Context, id string) (sound.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.sounds[id]
	if !ok {
		return sound.Asset{}, sound.ErrNotFound
	}
	return asset, nil
}

func (s *Store) ListSounds(_ context.Context, userID string) ([]sound.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]sound.Asset, 0)
	for _, a := range s.sounds {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListAllSounds(_ context.Context) ([]sound.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]sound.Asset, 0, len(s.sounds))
	for _, a := range s.sounds {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteSound(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sounds[id]; !ok {
		return sound.ErrNotFound
	}
	delete(s.sounds, id)
	return nil
}

// MixStore implementation -----------------------------------------------------

func (s *Store) CreateMix(_ context.Context, m mix.Mix) (mix.Mix, error) {
	if err := m.Validate(); err != nil {
		return mix.Mix{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.SoundIDs = append([]string(nil), m.SoundIDs...)

	s.mixes[m.ID] = m
	return m, nil
}

func (s *Store) GetMix(_ context.Context, id string) (mix.Mix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mixes[id]
	if !ok {
		return mix.Mix{}, mix.ErrNotFound
	}
	m.SoundIDs = append([]string(nil), m.SoundIDs...)
	return m, nil
}

func (s *Store) ListMixes(_ context.Context, userID string) ([]mix.Mix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mix.Mix, 0)
	for _, m := range s.mixes {
		if m.UserID == userID {
			m.SoundIDs = append([]string(nil), m.SoundIDs...)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteMix(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mixes[id]; !ok {
		return mix.ErrNotFound
	}
	delete(s.mixes, id)
	return nil
}
