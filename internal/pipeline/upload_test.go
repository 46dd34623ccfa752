package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meloofy/meloofy/internal/capture"
	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage/memory"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

type storageStub struct {
	mu      sync.Mutex
	objects map[string][]byte
	upserts map[string]string
	fails   int32 // storage failures to inject before succeeding
}

func newStorageStub() *storageStub {
	return &storageStub{objects: make(map[string][]byte), upserts: make(map[string]string)}
}

func (s *storageStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/storage/v1/object/") {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&s.fails, -1) >= 0 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"backend hiccup"}`))
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		s.mu.Lock()
		s.objects[key] = buf.Bytes()
		s.upserts[key] = r.Header.Get("x-upsert")
		s.mu.Unlock()
		fmt.Fprintf(w, `{"Key":%q}`, key)
	})
}

func (s *storageStub) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects["audio-files/"+key]
	return b, ok
}

func newTestUploader(t *testing.T, stub *storageStub, fails int) (*Uploader, *memory.Store) {
	t.Helper()
	atomic.StoreInt32(&stub.fails, int32(fails))
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("supabase.New: %v", err)
	}

	store := memory.New()
	u := New(client.Storage(), store, nil, Config{
		Bucket:        "audio-files",
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}, logger.Nop())
	return u, store
}

func pickedFile(t *testing.T, name string, data []byte) *capture.LocalCapture {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return &capture.LocalCapture{
		Path:     path,
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: capture.MIMEForExtension(filepath.Ext(name)),
	}
}

func TestUploadPickedFile(t *testing.T) {
	stub := newStorageStub()
	u, store := newTestUploader(t, stub, 0)
	data := []byte("mp3 payload")

	asset, err := u.Upload(context.Background(), pickedFile(t, "loop.mp3", data), "user-1")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if asset.ID == "" {
		t.Error("asset has no ID")
	}
	if asset.UserID != "user-1" {
		t.Errorf("user = %q", asset.UserID)
	}
	if !strings.Contains(asset.URL, "/object/public/audio-files/user-1/") {
		t.Errorf("url = %q", asset.URL)
	}
	if !strings.HasSuffix(asset.URL, ".mp3") {
		t.Errorf("url %q should keep the extension", asset.URL)
	}

	// The stored object is byte-identical to the local file.
	key := asset.URL[strings.Index(asset.URL, "user-1/"):]
	got, ok := stub.object(key)
	if !ok {
		t.Fatalf("object %q not stored", key)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored bytes differ from local file")
	}

	// Listing shows the new sound.
	assets, err := store.ListSounds(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(assets) != 1 || assets[0].ID != asset.ID {
		t.Errorf("listing = %+v", assets)
	}
}

func TestUploadRecordingUsesUpsertAndWavKey(t *testing.T) {
	stub := newStorageStub()
	u, _ := newTestUploader(t, stub, 0)

	cap := pickedFile(t, "anything.bin", []byte("wav payload"))
	cap.Owned = true
	cap.MIMEType = "audio/wav"
	cap.Name = "recording-20240101-120000.wav"

	asset, err := u.Upload(context.Background(), cap, "user-1")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	re := regexp.MustCompile(`/user-1/rec-\d+-\d+\.wav$`)
	if !re.MatchString(asset.URL) {
		t.Errorf("url = %q, want rec-<ts>-<seq>.wav key", asset.URL)
	}

	key := "audio-files" + asset.URL[strings.Index(asset.URL, "/user-1/"):]
	stub.mu.Lock()
	upsert := stub.upserts[key]
	stub.mu.Unlock()
	if upsert != "true" {
		t.Errorf("x-upsert = %q, want true for recordings", upsert)
	}
}

func TestUploadKeysDistinctWithinSameInstant(t *testing.T) {
	c1 := &capture.LocalCapture{Owned: true}
	c2 := &capture.LocalCapture{Owned: true}
	if generatedFileName(c1) == generatedFileName(c2) {
		t.Error("two keys generated back-to-back collide")
	}
}

func TestUploadRetriesTransientStorageFailure(t *testing.T) {
	stub := newStorageStub()
	u, _ := newTestUploader(t, stub, 1) // first write fails, retry succeeds

	_, err := u.Upload(context.Background(), pickedFile(t, "a.mp3", []byte("x")), "user-1")
	if err != nil {
		t.Fatalf("Upload after transient failure: %v", err)
	}
}

func TestUploadGivesUpAfterRetryBudget(t *testing.T) {
	stub := newStorageStub()
	u, store := newTestUploader(t, stub, 10)

	_, err := u.Upload(context.Background(), pickedFile(t, "a.mp3", []byte("x")), "user-1")
	if !errors.Is(err, ErrStorageWriteFailed) {
		t.Fatalf("expected ErrStorageWriteFailed, got %v", err)
	}

	// Short-circuit: no metadata row without a stored object.
	assets, _ := store.ListSounds(context.Background(), "user-1")
	if len(assets) != 0 {
		t.Errorf("metadata rows = %d, want 0", len(assets))
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	stub := newStorageStub()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatal(err)
	}
	u := New(client.Storage(), memory.New(), nil, Config{MaxBytes: 4}, logger.Nop())

	_, err = u.Upload(context.Background(), pickedFile(t, "big.mp3", []byte("too large")), "user-1")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestUploadOrphanReportedOnMetadataFailure(t *testing.T) {
	stub := newStorageStub()
	u, _ := newTestUploader(t, stub, 0)

	var orphan string
	u.OnOrphan(func(key string) { orphan = key })
	u.sounds = failingSoundStore{}

	_, err := u.Upload(context.Background(), pickedFile(t, "a.mp3", []byte("x")), "user-1")
	if err == nil {
		t.Fatal("expected metadata failure")
	}
	if !strings.HasPrefix(orphan, "user-1/") {
		t.Errorf("orphan key = %q", orphan)
	}
}

type failingSoundStore struct{}

func (failingSoundStore) CreateSound(context.Context, sound.Asset) (sound.Asset, error) {
	return sound.Asset{}, errors.New("insert rejected")
}
func (failingSoundStore) GetSound(context.Context, string) (sound.Asset, error) {
	return sound.Asset{}, sound.ErrNotFound
}
func (failingSoundStore) ListSounds(context.Context, string) ([]sound.Asset, error) {
	return nil, nil
}
func (failingSoundStore) ListAllSounds(context.Context) ([]sound.Asset, error) {
	return nil, nil
}
func (failingSoundStore) DeleteSound(context.Context, string) error {
	return nil
}
