package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/config"
	"github.com/roach88/eggsync/internal/connectivity"
	"github.com/roach88/eggsync/internal/ingest"
	"github.com/roach88/eggsync/internal/queue"
	"github.com/roach88/eggsync/internal/remote"
	"github.com/roach88/eggsync/internal/syncer"
)

// app holds the components a command works with. Remote fields are nil
// unless the command asked for them.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	queue   *queue.Queue
	docs    remote.DocumentStore
	blobs   remote.BlobStore
	monitor *connectivity.Monitor
	updater *aggregate.Updater
	worker  *syncer.Worker
	ingest  *ingest.API
}

// loadConfig reads configuration according to the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(config.Source{
		Path:     opts.ConfigPath,
		Required: opts.ConfigPath != "",
		Getenv:   opts.Getenv,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the process logger on w. --verbose forces debug.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil || verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler)
}

// openApp loads config, sets up logging and opens the queue. withRemote also
// connects the remote stores and builds the sync worker.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, withRemote bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	q, err := queue.Open(cfg.Queue.Path,
		queue.WithMinFreeBytes(cfg.Queue.MinFreeBytes),
		queue.WithLogger(logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}
	if cfg.Device.ID != "" {
		if err := q.SetDeviceID(ctx, cfg.Device.ID); err != nil {
			q.Close()
			return nil, WrapExitError(ExitCommandError, "failed to set device id", err)
		}
	}

	a := &app{cfg: cfg, logger: logger, queue: q}
	if !withRemote {
		return a, nil
	}

	if err := a.connectRemote(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect remote", err)
	}
	return a, nil
}

// deviceID returns the queue's device id for log lines, or "" after logging
// the read error.
func (a *app) deviceID(ctx context.Context) string {
	id, err := a.queue.DeviceID(ctx)
	if err != nil {
		a.logger.Error("read device id", "err", err)
		return ""
	}
	return id
}

func (a *app) connectRemote(ctx context.Context) error {
	docs, err := openDocumentStore(ctx, a.cfg.Remote)
	if err != nil {
		return err
	}
	a.docs = docs

	blobs, err := openBlobStore(ctx, a.cfg.Blob)
	if err != nil {
		return err
	}
	a.blobs = blobs

	if a.cfg.Demo {
		a.logger.Warn("demo mode: in-memory backends do not persist synced data")
	}

	var prober connectivity.Prober = connectivity.PingerProber{Pinger: docs}
	if a.cfg.Connectivity.ProbeAddr != "" {
		prober = connectivity.DialProber{Addr: a.cfg.Connectivity.ProbeAddr}
	}
	a.monitor = connectivity.NewMonitor(prober,
		connectivity.WithInterval(a.cfg.Connectivity.ProbeInterval),
		connectivity.WithTimeout(a.cfg.Connectivity.ProbeTimeout),
		connectivity.WithLogger(a.logger),
	)

	loc := a.cfg.Location()
	a.updater = aggregate.NewUpdater(docs, aggregate.WithLocation(loc), aggregate.WithLogger(a.logger))
	a.worker = syncer.New(a.queue, docs, blobs, a.updater, a.monitor, syncer.Config{
		Interval:       a.cfg.Sync.Interval,
		AttemptTimeout: a.cfg.Sync.AttemptTimeout,
		MaxRetries:     a.cfg.Sync.MaxRetries,
		MaxAttempts:    a.cfg.Sync.MaxAttempts,
		BaseBackoff:    a.cfg.Sync.BaseBackoff,
		MaxBackoff:     a.cfg.Sync.MaxBackoff,
		BatchSize:      a.cfg.Sync.BatchSize,
		Retention:      a.cfg.Queue.Retention,
	}, syncer.WithLocation(loc), syncer.WithLogger(a.logger))
	a.ingest = ingest.New(a.queue, a.worker, a.monitor, ingest.WithLogger(a.logger))
	return nil
}

// Close releases everything the app opened.
func (a *app) Close() {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Error("error closing blob store", "err", err)
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.logger.Error("error closing document store", "err", err)
		}
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("error closing queue", "err", err)
	}
}

func openDocumentStore(ctx context.Context, cfg config.RemoteConfig) (remote.DocumentStore, error) {
	switch cfg.Backend {
	case "postgres":
		return remote.NewPostgres(ctx, cfg.PostgresDSN)
	case "redis":
		return remote.NewRedis(ctx, remote.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case "memory":
		return remote.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (remote.BlobStore, error) {
	switch cfg.Backend {
	case "s3":
		return remote.NewS3(ctx, remote.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Prefix:   cfg.Prefix,
			Endpoint: cfg.Endpoint,
		})
	case "dir":
		return remote.NewDirBlobStore(cfg.Dir)
	case "memory":
		return remote.NewMemoryBlobStore(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
}
