// Package app wires the configuration, the Supabase client, the metadata
// store and the services into one application object the CLI drives.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/meloofy/meloofy/internal/auth"
	"github.com/meloofy/meloofy/internal/capture"
	"github.com/meloofy/meloofy/internal/config"
	"github.com/meloofy/meloofy/internal/diag"
	"github.com/meloofy/meloofy/internal/janitor"
	"github.com/meloofy/meloofy/internal/library"
	"github.com/meloofy/meloofy/internal/mixer"
	"github.com/meloofy/meloofy/internal/pipeline"
	"github.com/meloofy/meloofy/internal/player"
	"github.com/meloofy/meloofy/internal/storage"
	"github.com/meloofy/meloofy/internal/storage/postgres"
	sbstore "github.com/meloofy/meloofy/internal/storage/supabase"
	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// Version is stamped at build time.
var Version = "dev"

// Application ties the services together and manages their lifecycle.
type Application struct {
	Config config.Config

	Auth     *auth.Manager
	Recorder *capture.Recorder
	Uploader *pipeline.Uploader
	Library  *library.Service
	Player   *player.Player
	Mixer    *mixer.Service
	Janitor  *janitor.Janitor

	client *sb.Client
	store  storage.Store
	db     *sql.DB
	diag   *diag.Server
	log    *logger.Logger
}

// Options tune construction beyond the configuration file.
type Options struct {
	// Source produces raw PCM for the recorder. Nil keeps recording
	// unavailable, which is fine for upload-only usage.
	Source capture.SampleSource
	// Store overrides the metadata store, for tests and offline use.
	Store storage.Store
	// Sink overrides playback output. Nil selects HTTP streaming.
	Sink player.Sink
}

// New builds a fully initialised application.
func New(cfg config.Config, opts Options) (*Application, error) {
	log := logger.New("meloofy", logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	client, err := sb.New(sb.Config{
		ProjectURL: cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		ServiceKey: cfg.SupabaseServiceKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init supabase client: %w", err)
	}

	a := &Application{
		Config: cfg,
		client: client,
		log:    log,
	}

	a.Auth = auth.NewManager(client, log.WithField("component", "auth"))
	token := func() string { return a.Auth.AccessToken() }

	// Metadata store: explicit override, direct PostgreSQL, or PostgREST.
	switch {
	case opts.Store != nil:
		a.store = opts.Store
	case cfg.PostgresDSN != "":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.db = db
		a.store = postgres.New(db)
	default:
		a.store = sbstore.New(client.Database(), sbstore.Config{
			SoundsTable: cfg.SoundsTable,
			MixesTable:  cfg.MixesTable,
		}, token)
	}

	a.Recorder = capture.NewRecorder(opts.Source, cfg.CaptureDir, cfg.MaxUploadBytes, log.WithField("component", "recorder"))

	a.Uploader = pipeline.New(client.Storage(), a.store, token, pipeline.Config{
		Bucket:        cfg.Bucket,
		MaxBytes:      cfg.MaxUploadBytes,
		Timeout:       cfg.UploadTimeout,
		RetryAttempts: 2,
	}, log.WithField("component", "pipeline"))

	a.Library = library.New(a.store, client.Storage(), client.Realtime(), cfg.Bucket, cfg.SoundsTable, token, log.WithField("component", "library"))

	sink := opts.Sink
	if sink == nil {
		sink = &player.HTTPSink{Client: &http.Client{}}
	}
	a.Player = player.New(sink, cfg.PlaybackTimeout, log.WithField("component", "player"))

	a.Mixer = mixer.New(a.store, a.store, cfg.MixTrackCap, log.WithField("component", "mixer"))

	a.Janitor = janitor.New(client.Storage(), a.store, janitor.Config{
		Bucket:   cfg.Bucket,
		Schedule: cfg.JanitorSchedule,
		Grace:    cfg.JanitorGrace,
	}, log.WithField("component", "janitor"))
	a.Uploader.OnOrphan(a.Janitor.Report)

	if cfg.DiagAddr != "" {
		a.diag = diag.New(cfg.DiagAddr, Version, log.WithField("component", "diag"))
		go func() {
			if err := a.diag.Start(); err != nil {
				log.WithError(err).Error("diagnostics server failed")
			}
		}()
	}

	return a, nil
}

// Store exposes the metadata store, mainly for tests.
func (a *Application) Store() storage.Store { return a.store }

// Close releases every resource the application holds.
func (a *Application) Close() error {
	a.Player.Stop()
	a.Janitor.Stop()

	if a.diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.diag.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("diagnostics shutdown")
		}
	}

	a.client.Realtime().Disconnect()

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
