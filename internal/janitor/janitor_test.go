package janitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/storage/memory"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// bucketStub serves the storage list/remove endpoints over a flat key set.
type bucketStub struct {
	mu      sync.Mutex
	objects map[string]time.Time // key -> created_at
	removed []string
	auths   map[string]struct{} // Authorization headers seen
}

func newBucketStub() *bucketStub {
	return &bucketStub{
		objects: make(map[string]time.Time),
		auths:   make(map[string]struct{}),
	}
}

func (b *bucketStub) add(key string, createdAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = createdAt
}

func (b *bucketStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.auths[r.Header.Get("Authorization")] = struct{}{}
		b.mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/storage/v1/object/list/"):
			b.handleList(w, r)
		case r.Method == http.MethodDelete:
			b.handleRemove(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (b *bucketStub) handleList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]sb.FileObject)
	for key, at := range b.objects {
		rest := key
		if req.Prefix != "" {
			if !strings.HasPrefix(key, req.Prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(key, req.Prefix+"/")
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			// Deeper entry: surface the folder, no ID.
			seen[rest[:i]] = sb.FileObject{Name: rest[:i]}
			continue
		}
		created := at
		seen[rest] = sb.FileObject{Name: rest, ID: "obj-" + rest, CreatedAt: &created}
	}

	out := make([]sb.FileObject, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	json.NewEncoder(w).Encode(out)
}

func (b *bucketStub) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefixes []string `json:"prefixes"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range req.Prefixes {
		delete(b.objects, p)
		b.removed = append(b.removed, p)
	}
	w.Write([]byte(`[]`))
}

func newTestJanitor(t *testing.T, stub *bucketStub, store *memory.Store, grace time.Duration) *Janitor {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon", ServiceKey: "service-key"})
	if err != nil {
		t.Fatal(err)
	}
	return New(client.Storage(), store, Config{
		Bucket: "audio-files",
		Grace:  grace,
	}, logger.Nop())
}

func seedSound(t *testing.T, store *memory.Store, base, key string) {
	t.Helper()
	_, err := store.CreateSound(context.Background(), sound.Asset{
		Name:   key,
		URL:    base + key,
		UserID: "u1",
	})
	if err != nil {
		t.Fatal(err)
	}
}

const publicBase = "https://proj.supabase.co/storage/v1/object/public/audio-files/"

func TestSweepRemovesOldOrphans(t *testing.T) {
	stub := newBucketStub()
	store := memory.New()
	old := time.Now().Add(-2 * time.Hour)

	stub.add("u1/kept.mp3", old)
	stub.add("u1/orphan.wav", old)
	seedSound(t, store, publicBase, "u1/kept.mp3")

	j := newTestJanitor(t, stub, store, 30*time.Minute)
	n, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d objects, want 1", n)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.removed) != 1 || stub.removed[0] != "u1/orphan.wav" {
		t.Errorf("removed = %v", stub.removed)
	}
	// The sweep spans every user's folder, so anon RLS views are useless.
	if _, ok := stub.auths["Bearer service-key"]; !ok || len(stub.auths) != 1 {
		t.Errorf("storage calls authorized as %v, want the service role only", stub.auths)
	}
}

func TestSweepRequiresServiceKey(t *testing.T) {
	stub := newBucketStub()
	stub.add("u1/orphan.wav", time.Now().Add(-2*time.Hour))
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatal(err)
	}
	j := New(client.Storage(), memory.New(), Config{Bucket: "audio-files", Grace: time.Minute}, logger.Nop())
	if _, err := j.Sweep(context.Background()); err == nil {
		t.Error("sweep succeeded without a service key")
	}
}

func TestSweepHonorsGracePeriod(t *testing.T) {
	stub := newBucketStub()
	store := memory.New()

	// Unreferenced but fresh: could be an upload whose insert has not landed.
	stub.add("u1/in-flight.wav", time.Now())

	j := newTestJanitor(t, stub, store, 30*time.Minute)
	n, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("removed %d objects, want 0", n)
	}
}

func TestSweepRemovesReportedKeysPastGrace(t *testing.T) {
	stub := newBucketStub()
	store := memory.New()
	stub.add("u1/reported.wav", time.Now()) // fresh by listing age

	j := newTestJanitor(t, stub, store, 10*time.Millisecond)
	j.Report("u1/reported.wav")
	time.Sleep(20 * time.Millisecond)

	n, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d objects, want 1", n)
	}
}

func TestSweepDropsReportedKeyOnceReferenced(t *testing.T) {
	stub := newBucketStub()
	store := memory.New()
	old := time.Now().Add(-time.Hour)

	stub.add("u1/late.wav", old)
	seedSound(t, store, publicBase, "u1/late.wav")

	j := newTestJanitor(t, stub, store, time.Millisecond)
	j.Report("u1/late.wav") // insert later succeeded after a retry elsewhere
	time.Sleep(5 * time.Millisecond)

	n, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("removed %d objects, want 0", n)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	stub := newBucketStub()
	j := newTestJanitor(t, stub, memory.New(), time.Minute)
	j.cfg.Schedule = "not a cron expression"
	if err := j.Start(); err == nil {
		t.Error("bad schedule accepted")
		j.Stop()
	}
}
