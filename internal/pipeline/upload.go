// Package pipeline implements the capture-to-storage upload sequence: read
// the local bytes, push them to object storage under a per-user key, resolve
// the public URL, then insert the metadata record. The steps are strictly
// sequential and short-circuit: a failure before the metadata insert leaves
// no metadata row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meloofy/meloofy/internal/capture"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/metrics"
	"github.com/meloofy/meloofy/internal/storage"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// ErrStorageWriteFailed means the object storage write did not succeed; the
// pipeline aborted before touching the metadata table.
var ErrStorageWriteFailed = errors.New("storage write failed")

// ErrFileTooLarge means the local file exceeds the configured in-memory
// limit. Streaming larger-than-memory files is out of scope.
var ErrFileTooLarge = errors.New("file exceeds upload size limit")

// uploadSeq disambiguates keys generated within the same timestamp.
var uploadSeq atomic.Uint64

// TokenProvider supplies the current user access token for RLS-scoped
// storage writes; "" falls back to the anon role.
type TokenProvider func() string

// Config for the uploader.
type Config struct {
	Bucket   string
	MaxBytes int64
	Timeout  time.Duration

	// RetryAttempts bounds storage-write retries; 0 means no retry.
	RetryAttempts int
	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration
}

// Uploader runs the pipeline. Each invocation is independent; two concurrent
// uploads interleave freely but each keeps its own step order.
type Uploader struct {
	objects *sb.StorageClient
	sounds  storage.SoundStore
	token   TokenProvider
	cfg     Config
	log     *logger.Logger

	// onOrphan is invoked when an uploaded blob gains no metadata row; the
	// janitor removes such objects later.
	onOrphan func(key string)
}

// New creates an uploader.
func New(objects *sb.StorageClient, sounds storage.SoundStore, token TokenProvider, cfg Config, log *logger.Logger) *Uploader {
	if cfg.Bucket == "" {
		cfg.Bucket = "audio-files"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if token == nil {
		token = func() string { return "" }
	}
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Uploader{
		objects: objects,
		sounds:  sounds,
		token:   token,
		cfg:     cfg,
		log:     log,
	}
}

// OnOrphan registers the orphaned-key callback.
func (u *Uploader) OnOrphan(fn func(key string)) {
	u.onOrphan = fn
}

// Upload pushes one local capture through the pipeline for the given user and
// returns the created metadata record.
func (u *Uploader) Upload(ctx context.Context, cap *capture.LocalCapture, userID string) (sound.Asset, error) {
	if cap == nil || cap.Path == "" {
		return sound.Asset{}, fmt.Errorf("nothing to upload")
	}
	if userID == "" {
		return sound.Asset{}, fmt.Errorf("user id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	start := time.Now()
	asset, err := u.run(ctx, cap, userID)
	metrics.RecordUpload(err == nil, cap.Size, time.Since(start))
	return asset, err
}

func (u *Uploader) run(ctx context.Context, cap *capture.LocalCapture, userID string) (sound.Asset, error) {
	// Step 1: read local bytes fully into memory.
	data, err := u.readAll(cap.Path)
	if err != nil {
		metrics.RecordUploadFailure("read")
		return sound.Asset{}, err
	}

	// Step 2: derive the storage key.
	key := userID + "/" + generatedFileName(cap)

	// Step 3: upload. Recordings overwrite on retry of the same key; picked
	// files are first-writer-wins so a key collision fails the operation.
	opts := &sb.UploadOptions{
		ContentType: cap.MIMEType,
		Upsert:      cap.Owned,
	}
	if err := u.uploadWithRetry(ctx, key, data, opts); err != nil {
		metrics.RecordUploadFailure("storage")
		return sound.Asset{}, err
	}

	// Step 4: resolve the public URL.
	url := u.objects.GetPublicURL(u.cfg.Bucket, key)

	// Step 5: insert the metadata record. A failure here strands the blob;
	// record the key so the janitor can reclaim it.
	asset := sound.Asset{
		Name:     cap.Name,
		URL:      url,
		Duration: cap.Duration,
		UserID:   userID,
	}
	created, err := u.sounds.CreateSound(ctx, asset)
	if err != nil {
		metrics.RecordUploadFailure("metadata")
		u.log.WithError(err).Errorf("metadata insert failed; blob %s is orphaned", key)
		if u.onOrphan != nil {
			u.onOrphan(key)
		}
		return sound.Asset{}, fmt.Errorf("insert metadata: %w", err)
	}

	u.log.Infof("uploaded %s (%d bytes) as %s", cap.Name, len(data), created.ID)
	return created, nil
}

func (u *Uploader) readAll(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat local file: %w", err)
	}
	if info.Size() > u.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local file: %w", err)
	}
	return data, nil
}

func (u *Uploader) uploadWithRetry(ctx context.Context, key string, data []byte, opts *sb.UploadOptions) error {
	backoff := u.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = u.uploadOnce(ctx, key, data, opts)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt >= u.cfg.RetryAttempts {
			break
		}

		u.log.WithError(lastErr).Warnf("storage write attempt %d failed; retrying", attempt+1)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStorageWriteFailed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("%w: %v", ErrStorageWriteFailed, lastErr)
}

func (u *Uploader) uploadOnce(ctx context.Context, key string, data []byte, opts *sb.UploadOptions) error {
	if token := u.token(); token != "" {
		_, err := u.objects.UploadWithToken(ctx, u.cfg.Bucket, key, data, opts, token)
		return err
	}
	_, err := u.objects.Upload(ctx, u.cfg.Bucket, key, data, opts)
	return err
}

// retryable reports whether an upload error is worth retrying. Client errors
// (auth, key collision, validation) are not.
func retryable(err error) bool {
	var sbErr *sb.Error
	if errors.As(err, &sbErr) {
		return sbErr.StatusCode >= 500
	}
	// Transport-level failures are retryable.
	return true
}

// generatedFileName builds the storage file name. Recordings get a synthetic
// timestamp name; picked files keep their extension, defaulting to .mp3. The
// sequence number keeps two keys generated in the same instant distinct.
func generatedFileName(cap *capture.LocalCapture) string {
	seq := uploadSeq.Add(1)
	now := time.Now().UnixNano()

	if cap.Owned {
		return fmt.Sprintf("rec-%d-%d.wav", now, seq)
	}

	ext := strings.ToLower(filepath.Ext(cap.Path))
	if ext == "" {
		ext = ".mp3"
	}
	return fmt.Sprintf("%d-%d%s", now, seq, ext)
}
