package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EGGSYNC_"

type envBinding struct {
	key string
	set func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func uinteger(dst func(*Config) *uint64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"DEMO", boolean(func(c *Config) *bool { return &c.Demo })},

	{"DEVICE_ID", str(func(c *Config) *string { return &c.Device.ID })},
	{"DEVICE_TIMEZONE", str(func(c *Config) *string { return &c.Device.Timezone })},

	{"QUEUE_PATH", str(func(c *Config) *string { return &c.Queue.Path })},
	{"QUEUE_MIN_FREE_BYTES", uinteger(func(c *Config) *uint64 { return &c.Queue.MinFreeBytes })},
	{"QUEUE_RETENTION", duration(func(c *Config) *time.Duration { return &c.Queue.Retention })},

	{"SYNC_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Sync.Interval })},
	{"SYNC_ATTEMPT_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Sync.AttemptTimeout })},
	{"SYNC_MAX_RETRIES", integer(func(c *Config) *int { return &c.Sync.MaxRetries })},
	{"SYNC_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Sync.MaxAttempts })},
	{"SYNC_BASE_BACKOFF", duration(func(c *Config) *time.Duration { return &c.Sync.BaseBackoff })},
	{"SYNC_MAX_BACKOFF", duration(func(c *Config) *time.Duration { return &c.Sync.MaxBackoff })},
	{"SYNC_BATCH_SIZE", integer(func(c *Config) *int { return &c.Sync.BatchSize })},

	{"CONNECTIVITY_PROBE_ADDR", str(func(c *Config) *string { return &c.Connectivity.ProbeAddr })},
	{"CONNECTIVITY_PROBE_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Connectivity.ProbeInterval })},
	{"CONNECTIVITY_PROBE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Connectivity.ProbeTimeout })},

	{"REMOTE_BACKEND", str(func(c *Config) *string { return &c.Remote.Backend })},
	{"REMOTE_POSTGRES_DSN", str(func(c *Config) *string { return &c.Remote.PostgresDSN })},
	{"REMOTE_REDIS_ADDR", str(func(c *Config) *string { return &c.Remote.RedisAddr })},
	{"REMOTE_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Remote.RedisPassword })},
	{"REMOTE_REDIS_DB", integer(func(c *Config) *int { return &c.Remote.RedisDB })},
	{"REMOTE_REDIS_PREFIX", str(func(c *Config) *string { return &c.Remote.RedisPrefix })},

	{"BLOB_BACKEND", str(func(c *Config) *string { return &c.Blob.Backend })},
	{"BLOB_DIR", str(func(c *Config) *string { return &c.Blob.Dir })},
	{"BLOB_BUCKET", str(func(c *Config) *string { return &c.Blob.Bucket })},
	{"BLOB_REGION", str(func(c *Config) *string { return &c.Blob.Region })},
	{"BLOB_PREFIX", str(func(c *Config) *string { return &c.Blob.Prefix })},
	{"BLOB_ENDPOINT", str(func(c *Config) *string { return &c.Blob.Endpoint })},

	{"HTTP_ENABLED", boolean(func(c *Config) *bool { return &c.HTTP.Enabled })},
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.HTTP.Addr })},

	{"SPOOL_ENABLED", boolean(func(c *Config) *bool { return &c.Spool.Enabled })},
	{"SPOOL_DIR", str(func(c *Config) *string { return &c.Spool.Dir })},
	{"SPOOL_RESCAN_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Spool.RescanInterval })},

	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// applyEnv overrides cfg with every EGGSYNC_* variable that is set.
func applyEnv(cfg *Config, lookup func(string) string) error {
	var errs []error
	for _, b := range envBindings {
		v := lookup(EnvPrefix + b.key)
		if v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err))
		}
	}
	return errors.Join(errs...)
}
