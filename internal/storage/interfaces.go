// Package storage defines the persistence interfaces for sound assets and
// mixes. Implementations live in the memory, postgres and supabase
// subpackages.
package storage

import (
	"context"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
)

// SoundStore persists sound asset metadata records.
type SoundStore interface {
	CreateSound(ctx context.Context, asset sound.Asset) (sound.Asset, error)
	GetSound(ctx context.Context, id string) (sound.Asset, error)
	// ListSounds returns the user's assets newest first. Single page; the
	// expected per-user volume is small.
	ListSounds(ctx context.Context, userID string) ([]sound.Asset, error)
	// ListAllSounds spans every user; maintenance jobs run with the service
	// role and need the full table.
	ListAllSounds(ctx context.Context) ([]sound.Asset, error)
	DeleteSound(ctx context.Context, id string) error
}

// MixStore persists mix records.
type MixStore interface {
	CreateMix(ctx context.Context, m mix.Mix) (mix.Mix, error)
	GetMix(ctx context.Context, id string) (mix.Mix, error)
	ListMixes(ctx context.Context, userID string) ([]mix.Mix, error)
	DeleteMix(ctx context.Context, id string) error
}

// Store combines both stores; every backend implements the full set.
type Store interface {
	SoundStore
	MixStore
}
