// Package mixer records named combinations of sounds. A mix references up to
// TrackCap sounds by ID; selections past the cap are dropped, keeping the
// earliest picks.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage"
	"github.com/meloofy/meloofy/pkg/logger"
)

// DefaultTrackCap is the number of sounds a mix holds.
const DefaultTrackCap = 3

// Service creates and lists mixes.
type Service struct {
	mixes    storage.MixStore
	sounds   storage.SoundStore
	trackCap int
	log      *logger.Logger
}

// New creates a mixer service. trackCap <= 0 selects the default.
func New(mixes storage.MixStore, sounds storage.SoundStore, trackCap int, log *logger.Logger) *Service {
	if trackCap <= 0 {
		trackCap = DefaultTrackCap
	}
	if log == nil {
		log = logger.NewDefault("mixer")
	}
	return &Service{mixes: mixes, sounds: sounds, trackCap: trackCap, log: log}
}

// TrackCap returns the per-mix sound limit.
func (s *Service) TrackCap() int { return s.trackCap }

// Save validates the selection and persists a new mix. Duplicate sound IDs
// collapse to one, order preserved; anything beyond the cap is truncated.
// Every referenced sound must exist and belong to the user.
func (s *Service) Save(ctx context.Context, userID, name string, soundIDs []string) (mix.Mix, error) {
	if userID == "" {
		return mix.Mix{}, fmt.Errorf("user id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return mix.Mix{}, fmt.Errorf("mix name is required")
	}

	ids := dedupe(soundIDs)
	if len(ids) == 0 {
		return mix.Mix{}, fmt.Errorf("a mix needs at least one sound")
	}
	if len(ids) > s.trackCap {
		s.log.Debugf("mix %q selection truncated from %d to %d sounds", name, len(ids), s.trackCap)
		ids = ids[:s.trackCap]
	}

	for _, id := range ids {
		asset, err := s.sounds.GetSound(ctx, id)
		if err != nil {
			return mix.Mix{}, fmt.Errorf("sound %s: %w", id, err)
		}
		if asset.UserID != userID {
			return mix.Mix{}, fmt.Errorf("sound %s: %w", id, sound.ErrNotFound)
		}
	}

	created, err := s.mixes.CreateMix(ctx, mix.Mix{
		Name:     name,
		SoundIDs: ids,
		UserID:   userID,
	})
	if err != nil {
		return mix.Mix{}, fmt.Errorf("save mix: %w", err)
	}
	s.log.Infof("saved mix %q (%d sounds) as %s", name, len(ids), created.ID)
	return created, nil
}

// List returns the user's mixes, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]mix.Mix, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.mixes.ListMixes(ctx, userID)
}

// Get fetches one mix owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (mix.Mix, error) {
	m, err := s.mixes.GetMix(ctx, id)
	if err != nil {
		return mix.Mix{}, err
	}
	if m.UserID != userID {
		return mix.Mix{}, mix.ErrNotFound
	}
	return m, nil
}

// Delete removes one mix owned by the user.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.mixes.DeleteMix(ctx, id)
}

// Resolve expands a mix into its sound records, skipping sounds that have
// been deleted since the mix was saved.
func (s *Service) Resolve(ctx context.Context, userID, id string) (mix.Mix, []sound.Asset, error) {
	m, err := s.Get(ctx, userID, id)
	if err != nil {
		return mix.Mix{}, nil, err
	}

	assets := make([]sound.Asset, 0, len(m.SoundIDs))
	for _, sid := range m.SoundIDs {
		asset, err := s.sounds.GetSound(ctx, sid)
		if err != nil {
			if errors.Is(err, sound.ErrNotFound) {
				continue
			}
			return mix.Mix{}, nil, err
		}
		assets = append(assets, asset)
	}
	return m, assets, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
