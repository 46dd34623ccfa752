// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meloofy/meloofy/internal/player"
)

// PCMSource is a scripted sample source: it yields the given bytes, then
// blocks until closed. Matches how a live input behaves between sounds.
type PCMSource struct {
	mu     sync.Mutex
	buf    *bytes.Reader
	closed chan struct{}
	once   sync.Once
}

// NewPCMSource creates a source that serves data once.
func NewPCMSource(data []byte) *PCMSource {
	return &PCMSource{
		buf:    bytes.NewReader(data),
		closed: make(chan struct{}),
	}
}

// Read drains the scripted bytes, then blocks until Close.
func (s *PCMSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	n, err := s.buf.Read(p)
	s.mu.Unlock()
	if err != io.EOF {
		return n, err
	}
	if n > 0 {
		return n, nil
	}
	<-s.closed
	return 0, io.EOF
}

// Close releases any blocked Read with EOF.
func (s *PCMSource) Close() {
	s.once.Do(func() { close(s.closed) })
}

// PlaybackSink records Open/Stop calls for playback tests.
type PlaybackSink struct {
	mu      sync.Mutex
	opened  []string
	stopped []string
	// OpenErr, when set, fails every Open.
	OpenErr error
	// Delay stalls Open to exercise timeouts.
	Delay time.Duration
}

type playbackHandle struct {
	sink *PlaybackSink
	url  string
}

func (h *playbackHandle) Stop() error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.stopped = append(h.sink.stopped, h.url)
	return nil
}

// Open records the URL and returns a handle, honoring Delay and OpenErr.
func (s *PlaybackSink) Open(ctx context.Context, url string) (player.Handle, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, url)
	return &playbackHandle{sink: s, url: url}, nil
}

// Opened returns the URLs opened so far.
func (s *PlaybackSink) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

// Stopped returns the URLs stopped so far.
func (s *PlaybackSink) Stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stopped...)
}

// SupabaseStub is an httptest server that answers the REST endpoints tests
// touch. Handlers are registered per method+path prefix.
type SupabaseStub struct {
	Server *httptest.Server
	mux    *http.ServeMux

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest captures one request the stub served.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// NewSupabaseStub starts a stub server. Close it with Server.Close.
func NewSupabaseStub() *SupabaseStub {
	s := &SupabaseStub{mux: http.NewServeMux()}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		s.mux.ServeHTTP(w, r)
	}))
	return s
}

// Handle registers a handler for the given pattern.
func (s *SupabaseStub) Handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

// Requests returns everything served so far.
func (s *SupabaseStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
