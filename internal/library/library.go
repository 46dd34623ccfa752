// Package library exposes the user's sound collection: listing, change
// notifications, and deletion of both the metadata row and the backing blob.
package library

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// ChangeKind identifies what happened to a library row.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is one library mutation observed through the realtime feed.
type Change struct {
	Kind  ChangeKind
	Asset sound.Asset
}

// Service reads and mutates the sound collection.
type Service struct {
	sounds   storage.SoundStore
	objects  *sb.StorageClient
	realtime *sb.RealtimeClient
	bucket   string
	table    string
	token    func() string
	log      *logger.Logger
}

// New creates a library service. realtime may be nil, in which case Watch is
// unavailable. token supplies the signed-in user's access token so storage
// RLS applies to blob removal; nil or empty falls back to the anon role.
func New(sounds storage.SoundStore, objects *sb.StorageClient, realtime *sb.RealtimeClient, bucket, table string, token func() string, log *logger.Logger) *Service {
	if bucket == "" {
		bucket = "audio-files"
	}
	if table == "" {
		table = "sounds"
	}
	if log == nil {
		log = logger.NewDefault("library")
	}
	return &Service{
		sounds:   sounds,
		objects:  objects,
		realtime: realtime,
		bucket:   bucket,
		table:    table,
		token:    token,
		log:      log,
	}
}

// List returns the user's sounds, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]sound.Asset, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.sounds.ListSounds(ctx, userID)
}

// Get fetches a single sound owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (sound.Asset, error) {
	asset, err := s.sounds.GetSound(ctx, id)
	if err != nil {
		return sound.Asset{}, err
	}
	if asset.UserID != userID {
		return sound.Asset{}, sound.ErrNotFound
	}
	return asset, nil
}

// Watch subscribes to row changes on the sounds table for the given user and
// invokes fn for each. It returns an unsubscribe function. The subscription
// ends when ctx is cancelled or unsubscribe is called.
func (s *Service) Watch(ctx context.Context, userID string, fn func(Change)) (func(), error) {
	if s.realtime == nil {
		return nil, fmt.Errorf("realtime feed is not configured")
	}
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	cfg := sb.SubscriptionConfig{
		Schema: "public",
		Table:  s.table,
		Event:  "*",
		Filter: "user_id=eq." + userID,
	}
	ch, err := s.realtime.Subscribe(ctx, cfg, func(ev sb.ChangeEvent) {
		change, ok := decodeChange(ev)
		if !ok {
			return
		}
		fn(change)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s changes: %w", s.table, err)
	}
	stop := context.AfterFunc(ctx, func() { ch.Unsubscribe() })
	return func() {
		stop()
		ch.Unsubscribe()
	}, nil
}

// Delete removes the metadata row and then the backing blob. The row goes
// first so readers never see a sound whose bytes are gone; a blob left behind
// by a failed second step is reclaimed by the janitor.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	asset, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.sounds.DeleteSound(ctx, id); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}

	key, ok := s.objectKey(asset.URL)
	if !ok {
		s.log.Warnf("sound %s has an unrecognized URL; blob not removed", id)
		return nil
	}
	if err := s.removeBlob(ctx, key); err != nil {
		// The row is already gone; the janitor will sweep the blob.
		s.log.WithError(err).Warnf("blob %s not removed; left for the janitor", key)
	}
	return nil
}

// removeBlob deletes the object as the signed-in user when a token is
// available; per-user storage policies reject anon deletes.
func (s *Service) removeBlob(ctx context.Context, key string) error {
	if s.token != nil {
		if tok := s.token(); tok != "" {
			return s.objects.RemoveWithToken(ctx, s.bucket, []string{key}, tok)
		}
	}
	return s.objects.Remove(ctx, s.bucket, []string{key})
}

// objectKey recovers the storage key from a public URL.
func (s *Service) objectKey(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	marker := "/object/public/" + s.bucket + "/"
	idx := strings.Index(u.Path, marker)
	if idx < 0 {
		return "", false
	}
	key, err := url.PathUnescape(u.Path[idx+len(marker):])
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

func decodeChange(ev sb.ChangeEvent) (Change, bool) {
	kind := ChangeKind(ev.Type)
	switch kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return Change{}, false
	}

	record := ev.Record
	if kind == ChangeDelete {
		record = ev.OldRecord
	}

	var asset sound.Asset
	if record != nil {
		if v, ok := record["id"].(string); ok {
			asset.ID = v
		}
		if v, ok := record["name"].(string); ok {
			asset.Name = v
		}
		if v, ok := record["url"].(string); ok {
			asset.URL = v
		}
		if v, ok := record["user_id"].(string); ok {
			asset.UserID = v
		}
		if v, ok := record["duration"].(float64); ok {
			asset.Duration = &v
		}
	}
	return Change{Kind: kind, Asset: asset}, true
}
