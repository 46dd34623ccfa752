// Package player holds the single playback slot. At most one sound plays at
// a time: starting a new one stops whatever is current first.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meloofy/meloofy/internal/domain/sound"
	"github.com/meloofy/meloofy/internal/metrics"
	"github.com/meloofy/meloofy/pkg/logger"
)

// ErrPlaybackUnavailable means the sink could not begin playback, for
// example because the URL did not resolve in time.
var ErrPlaybackUnavailable = errors.New("playback unavailable")

// Sink is the audio output backend. Open resolves the URL and starts
// playback, returning a handle the player stops later.
type Sink interface {
	Open(ctx context.Context, url string) (Handle, error)
}

// Handle is one live playback.
type Handle interface {
	Stop() error
}

// Player serializes playback through a single slot.
type Player struct {
	sink    Sink
	timeout time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	current Handle
	nowID   string
}

// New creates a player over the given sink.
func New(sink Sink, timeout time.Duration, log *logger.Logger) *Player {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("player")
	}
	return &Player{sink: sink, timeout: timeout, log: log}
}

// Play stops any current playback and starts the given sound. On failure the
// slot is left empty.
func (p *Player) Play(ctx context.Context, asset sound.Asset) error {
	if asset.URL == "" {
		return fmt.Errorf("%w: sound has no URL", ErrPlaybackUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	h, err := p.sink.Open(ctx, asset.URL)
	if err != nil {
		metrics.RecordPlayback(false)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s did not resolve in time", ErrPlaybackUnavailable, asset.URL)
		}
		return fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	p.current = h
	p.nowID = asset.ID
	metrics.RecordPlayback(true)
	p.log.Debugf("playing %s", asset.ID)
	return nil
}

// Stop ends the current playback. Stopping an idle player is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// NowPlaying returns the ID of the sound in the slot, or "" when idle.
func (p *Player) NowPlaying() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowID
}

func (p *Player) stopLocked() {
	if p.current == nil {
		return
	}
	if err := p.current.Stop(); err != nil {
		p.log.WithError(err).Warnf("stopping playback of %s", p.nowID)
	}
	p.current = nil
	p.nowID = ""
}
