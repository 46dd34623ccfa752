// Package janitor reclaims storage objects that lost their metadata row: an
// upload whose final insert failed, or a delete whose blob removal failed.
// It runs on a cron schedule, lists the bucket, and removes any object older
// than the grace period that no sound record references.
package janitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/metrics"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// SoundLister is the slice of the metadata store the janitor needs. Sweeps
// run with the service role, so the listing spans every user.
type SoundLister interface {
	ListAllSounds(ctx context.Context) ([]sound.Asset, error)
}

// Config for the janitor.
type Config struct {
	Bucket string
	// Schedule is a cron expression, e.g. "@hourly".
	Schedule string
	// Grace protects in-flight uploads: objects younger than this are never
	// touched even when unreferenced.
	Grace time.Duration
	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration
}

// Janitor sweeps the bucket for orphaned objects. Storage listing and
// removal run under the service role key, since the sweep spans every
// user's folder.
type Janitor struct {
	objects *sb.StorageClient
	sounds  SoundLister
	cfg     Config
	log     *logger.Logger

	cron *cron.Cron

	mu       sync.Mutex
	reported map[string]time.Time // keys flagged by the pipeline, with flag time
}

// New creates a janitor.
func New(objects *sb.StorageClient, sounds SoundLister, cfg Config, log *logger.Logger) *Janitor {
	if cfg.Bucket == "" {
		cfg.Bucket = "audio-files"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Minute
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("janitor")
	}
	return &Janitor{
		objects:  objects,
		sounds:   sounds,
		cfg:      cfg,
		log:      log,
		reported: make(map[string]time.Time),
	}
}

// Report flags a key the pipeline knows it orphaned. Reported keys skip the
// listing walk but still respect the grace period.
func (j *Janitor) Report(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reported[key] = time.Now()
}

// Start schedules periodic sweeps. Call Stop to shut down.
func (j *Janitor) Start() error {
	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}
	c := cron.New()
	_, err := c.AddFunc(j.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.SweepTimeout)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron = c
	c.Start()
	j.log.Infof("scheduled sweeps: %s", j.cfg.Schedule)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}

// Sweep runs one pass and returns the number of objects removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	referenced, err := j.referencedKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("collect referenced keys: %w", err)
	}

	cutoff := time.Now().Add(-j.cfg.Grace)
	var doomed []string

	// Reported keys first: the pipeline already knows these are orphans.
	j.mu.Lock()
	for key, at := range j.reported {
		if _, ok := referenced[key]; ok {
			delete(j.reported, key)
			continue
		}
		if at.Before(cutoff) {
			doomed = append(doomed, key)
			delete(j.reported, key)
		}
	}
	j.mu.Unlock()

	// Then a full listing walk. The bucket is one level deep: user folders
	// at the root, files beneath.
	keys, err := j.listKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bucket %s: %w", j.cfg.Bucket, err)
	}
	seen := make(map[string]struct{}, len(doomed))
	for _, k := range doomed {
		seen[k] = struct{}{}
	}
	for key, createdAt := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		// Unknown age counts as young; never delete what cannot be dated.
		if createdAt == nil || createdAt.After(cutoff) {
			continue
		}
		doomed = append(doomed, key)
	}

	if len(doomed) == 0 {
		j.log.Debug("sweep found no orphans")
		return 0, nil
	}

	if err := j.objects.RemoveWithServiceKey(ctx, j.cfg.Bucket, doomed); err != nil {
		return 0, fmt.Errorf("remove %d orphans: %w", len(doomed), err)
	}
	metrics.RecordOrphansRemoved(len(doomed))
	j.log.Infof("removed %d orphaned objects", len(doomed))
	return len(doomed), nil
}

// listKeys enumerates every object key in the bucket with its creation time.
// The storage list endpoint returns one folder level per call; folders come
// back without an ID.
func (j *Janitor) listKeys(ctx context.Context) (map[string]*time.Time, error) {
	const pageSize = 1000

	roots, err := j.listAll(ctx, "", pageSize)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]*time.Time)
	for _, entry := range roots {
		if entry.ID != "" {
			keys[entry.Name] = entry.CreatedAt
			continue
		}
		files, err := j.listAll(ctx, entry.Name, pageSize)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.ID == "" {
				continue
			}
			keys[entry.Name+"/"+f.Name] = f.CreatedAt
		}
	}
	return keys, nil
}

func (j *Janitor) listAll(ctx context.Context, prefix string, pageSize int) ([]sb.FileObject, error) {
	var all []sb.FileObject
	for offset := 0; ; offset += pageSize {
		page, err := j.objects.ListWithServiceKey(ctx, j.cfg.Bucket, prefix, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// referencedKeys maps every storage key a sound row points at.
func (j *Janitor) referencedKeys(ctx context.Context) (map[string]struct{}, error) {
	assets, err := j.sounds.ListAllSounds(ctx)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(assets))
	marker := "/object/public/" + j.cfg.Bucket + "/"
	for _, a := range assets {
		u, err := url.Parse(a.URL)
		if err != nil {
			continue
		}
		idx := strings.Index(u.Path, marker)
		if idx < 0 {
			continue
		}
		key, err := url.PathUnescape(u.Path[idx+len(marker):])
		if err != nil || key == "" {
			continue
		}
		keys[key] = struct{}{}
	}
	return keys, nil
}
