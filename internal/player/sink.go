package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPSink resolves the sound URL over HTTP and streams the body until
// stopped. Decoding and device output live behind whatever consumes Body.
type HTTPSink struct {
	Client *http.Client
	// Consume, when set, receives the response body and runs until it is
	// closed. When nil the body is drained and discarded.
	Consume func(io.Reader)
}

type httpHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *httpHandle) Stop() error {
	h.cancel()
	<-h.done
	return nil
}

// Open issues the GET and hands the body to the consumer on a goroutine. The
// returned handle cancels the request and waits for the consumer to finish.
func (s *HTTPSink) Open(ctx context.Context, url string) (Handle, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	// The stream outlives Open; detach from the caller's deadline once the
	// request headers are in.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	// Honor the caller's deadline while waiting for headers only.
	detach := context.AfterFunc(ctx, cancel)
	resp, err := client.Do(req)
	detach()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch sound: status %d", resp.StatusCode)
	}

	h := &httpHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer resp.Body.Close()
		if s.Consume != nil {
			s.Consume(resp.Body)
			return
		}
		io.Copy(io.Discard, resp.Body)
	}()
	return h, nil
}
