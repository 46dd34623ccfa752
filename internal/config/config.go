// Package config loads application configuration from the environment and an
// optional YAML file. The Supabase URL and anon key are mandatory: starting
// with empty credentials would only defer the failure to the first request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseAnonKey    string `yaml:"supabase_anon_key"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`

	// Bucket is the storage bucket holding audio files.
	Bucket string `yaml:"bucket"`

	// SoundsTable and MixesTable name the metadata tables. Older deployments
	// used "songs" for the former.
	SoundsTable string `yaml:"sounds_table"`
	MixesTable  string `yaml:"mixes_table"`

	// MixTrackCap bounds how many sound ids a mix may reference.
	MixTrackCap int `yaml:"mix_track_cap"`

	// CaptureDir is where recordings are written before upload. Empty means
	// the OS temp dir.
	CaptureDir string `yaml:"capture_dir"`

	// MaxUploadBytes bounds how much of a local file the pipeline will read.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	UploadTimeout   time.Duration `yaml:"upload_timeout"`
	PlaybackTimeout time.Duration `yaml:"playback_timeout"`

	// JanitorSchedule is a cron expression for the orphaned-blob sweep.
	JanitorSchedule string        `yaml:"janitor_schedule"`
	JanitorGrace    time.Duration `yaml:"janitor_grace"`

	// PostgresDSN switches metadata persistence to a direct database
	// connection instead of the Supabase REST API. Optional.
	PostgresDSN string `yaml:"postgres_dsn"`

	// DiagAddr enables the diagnostics HTTP listener when non-empty,
	// e.g. "127.0.0.1:9090".
	DiagAddr string `yaml:"diag_addr"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration defaults applied under any file or
// environment overrides.
func Default() Config {
	return Config{
		Bucket:          "audio-files",
		SoundsTable:     "sounds",
		MixesTable:      "mixes",
		MixTrackCap:     3,
		MaxUploadBytes:  64 << 20, // tens of MB; larger-than-memory files are out of scope
		UploadTimeout:   2 * time.Minute,
		PlaybackTimeout: 15 * time.Second,
		JanitorSchedule: "@hourly",
		JanitorGrace:    30 * time.Minute,
		LogLevel:        "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables. A .env file in the working directory is
// honored the way the original app honored Expo env files.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.SupabaseAnonKey = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.SupabaseServiceKey = v
	}
	if v := os.Getenv("MELOOFY_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if v := os.Getenv("MELOOFY_SOUNDS_TABLE"); v != "" {
		cfg.SoundsTable = v
	}
	if v := os.Getenv("MELOOFY_MIXES_TABLE"); v != "" {
		cfg.MixesTable = v
	}
	if v := os.Getenv("MELOOFY_MIX_TRACK_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MixTrackCap = n
		}
	}
	if v := os.Getenv("MELOOFY_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("MELOOFY_DIAG_ADDR"); v != "" {
		cfg.DiagAddr = v
	}
	if v := os.Getenv("MELOOFY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MELOOFY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// Validate checks that mandatory settings are present and sane.
func (c Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required; set it in the environment, a .env file, or the config file")
	}
	if c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required; set it in the environment, a .env file, or the config file")
	}
	if c.MixTrackCap <= 0 {
		return fmt.Errorf("mix_track_cap must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}
