// Package config loads eggsync configuration.
//
// Layers, lowest precedence first: built-in defaults, the YAML file, a .env
// file, then EGGSYNC_* environment variables. Durations use Go syntax
// ("30s", "5m").
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "eggsync.yaml"

// Config holds all eggsync configuration.
type Config struct {
	// Demo allows the in-memory remote and blob backends. Anything synced
	// to them is gone when the process exits.
	Demo bool `yaml:"demo"`

	Device       DeviceConfig       `yaml:"device"`
	Queue        QueueConfig        `yaml:"queue"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Remote       RemoteConfig       `yaml:"remote"`
	Blob         BlobConfig         `yaml:"blob"`
	HTTP         HTTPConfig         `yaml:"http"`
	Spool        SpoolConfig        `yaml:"spool"`
	Log          LogConfig          `yaml:"log"`
}

// DeviceConfig identifies the capture device.
type DeviceConfig struct {
	// ID overrides the generated device id stored in the queue.
	ID string `yaml:"id"`
	// Timezone is an IANA zone used for daily summaries and blob paths.
	Timezone string `yaml:"timezone"`
}

// QueueConfig holds local queue settings.
type QueueConfig struct {
	Path         string        `yaml:"path"`
	MinFreeBytes uint64        `yaml:"min_free_bytes"`
	Retention    time.Duration `yaml:"retention"`
}

// SyncConfig holds sync worker settings.
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BatchSize      int           `yaml:"batch_size"`
}

// ConnectivityConfig holds monitor settings. An empty ProbeAddr probes the
// remote document store instead of dialing.
type ConnectivityConfig struct {
	ProbeAddr     string        `yaml:"probe_addr"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// RemoteConfig selects the document store.
type RemoteConfig struct {
	Backend       string `yaml:"backend"` // "postgres" or "redis" ("memory" with demo)
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// BlobConfig selects the image store.
type BlobConfig struct {
	Backend  string `yaml:"backend"` // "dir" or "s3" ("memory" with demo)
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// HTTPConfig holds the status/ingest API settings.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SpoolConfig holds spool directory ingestion settings.
type SpoolConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Dir            string        `yaml:"dir"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration. It leaves the remote and blob
// backends unset, so it does not validate on its own.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{Timezone: "UTC"},
		Queue: QueueConfig{
			Path:         "eggsync.db",
			MinFreeBytes: 64 << 20,
		},
		Sync: SyncConfig{
			Interval:       30 * time.Second,
			AttemptTimeout: 15 * time.Second,
			MaxRetries:     8,
			MaxAttempts:    100,
			BaseBackoff:    5 * time.Second,
			MaxBackoff:     10 * time.Minute,
			BatchSize:      200,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Remote: RemoteConfig{RedisPrefix: "eggsync:"},
		HTTP:   HTTPConfig{Addr: "127.0.0.1:8087"},
		Spool:  SpoolConfig{Dir: "spool", RescanInterval: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Source describes where to load configuration from.
type Source struct {
	// Path of the YAML file. Empty means DefaultPath.
	Path string
	// Required makes a missing YAML file an error.
	Required bool
	// EnvFile is an optional dotenv file. Empty means ".env".
	EnvFile string
	// Getenv looks up environment variables. Nil means os.Getenv.
	Getenv func(string) string
}

// Load builds a validated Config from src.
func Load(src Source) (*Config, error) {
	cfg := Default()

	path := src.Path
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !src.Required:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	lookup, err := envLookup(src)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML decodes with unknown fields rejected, so typos surface.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

// envLookup merges the dotenv file under the process environment; real
// variables win.
func envLookup(src Source) (func(string) string, error) {
	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	envFile := src.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}, nil
}

// Validate checks the configuration for values the components cannot run
// with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Device.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("device.timezone: %w", err))
	}
	if c.Queue.Path == "" {
		errs = append(errs, errors.New("queue.path is required"))
	}
	if c.Queue.Retention < 0 {
		errs = append(errs, errors.New("queue.retention must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("sync.attempt_timeout must be positive"))
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.max_retries must not be negative"))
	}
	if c.Sync.MaxAttempts < 0 {
		errs = append(errs, errors.New("sync.max_attempts must not be negative"))
	}
	if c.Sync.BaseBackoff <= 0 || c.Sync.MaxBackoff < c.Sync.BaseBackoff {
		errs = append(errs, errors.New("sync backoff requires 0 < base_backoff <= max_backoff"))
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, errors.New("sync.batch_size must not be negative"))
	}
	if c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("connectivity probe interval and timeout must be positive"))
	}

	switch c.Remote.Backend {
	case "":
		errs = append(errs, errors.New("remote.backend is required: postgres or redis"))
	case "memory":
		if !c.Demo {
			errs = append(errs, errors.New("remote.backend memory loses synced detections on exit; set demo: true to allow it"))
		}
	case "postgres":
		if c.Remote.PostgresDSN == "" {
			errs = append(errs, errors.New("remote.postgres_dsn is required for the postgres backend"))
		}
	case "redis":
		if c.Remote.RedisAddr == "" {
			errs = append(errs, errors.New("remote.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.backend %q: want postgres or redis", c.Remote.Backend))
	}

	switch c.Blob.Backend {
	case "":
		errs = append(errs, errors.New("blob.backend is required: dir or s3"))
	case "memory":
		if !c.Demo {
			errs = append(errs, errors.New("blob.backend memory loses synced images on exit; set demo: true to allow it"))
		}
	case "dir":
		if c.Blob.Dir == "" {
			errs = append(errs, errors.New("blob.dir is required for the dir backend"))
		}
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("blob.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.backend %q: want dir or s3", c.Blob.Backend))
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}
	if c.Spool.Enabled && c.Spool.Dir == "" {
		errs = append(errs, errors.New("spool.dir is required when spool is enabled"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Location returns the device time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Device.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return l, nil
}
