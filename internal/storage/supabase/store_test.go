package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meloofy/meloofy/internal/domain/mix"
	"github.com/meloofy/meloofy/internal/domain/sound"
	sb "github.com/meloofy/meloofy/supabase"
)

func newTestStore(t *testing.T, handler http.Handler, token string) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := sb.New(sb.Config{ProjectURL: srv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatal(err)
	}
	var provider TokenProvider
	if token != "" {
		provider = func() string { return token }
	}
	return New(client.Database(), Config{}, provider)
}

func TestCreateSoundReturnsInsertedRow(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/sounds", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]sound.Asset{{
			ID:     "s1",
			Name:   "clip",
			URL:    "https://x/y.mp3",
			UserID: "u1",
		}})
	})
	s := newTestStore(t, mux, "user-token")

	created, err := s.CreateSound(context.Background(), sound.Asset{
		Name:   "clip",
		URL:    "https://x/y.mp3",
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("CreateSound: %v", err)
	}
	if created.ID != "s1" {
		t.Errorf("id = %q", created.ID)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q; RLS token must travel", gotAuth)
	}
}

func TestGetSoundNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/sounds", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	s := newTestStore(t, mux, "")

	_, err := s.GetSound(context.Background(), "missing")
	if !errors.Is(err, sound.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSoundsQueryShape(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/sounds", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})
	s := newTestStore(t, mux, "")

	if _, err := s.ListSounds(context.Background(), "u1"); err != nil {
		t.Fatalf("ListSounds: %v", err)
	}
	for _, want := range []string{"user_id=eq.u1", "order=created_at.desc"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestDeleteMixNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/mixes", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`)) // nothing matched the filter
	})
	s := newTestStore(t, mux, "")

	if err := s.DeleteMix(context.Background(), "missing"); !errors.Is(err, mix.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func containsParam(query, param string) bool {
	for _, p := range strings.Split(query, "&") {
		if p == param {
			return true
		}
	}
	return false
}
