package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/eggsync/internal/httpapi"
	"github.com/roach88/eggsync/internal/ingest"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run the connectivity monitor and sync worker until interrupted.

When enabled in the config, the HTTP status/ingest API and the spool
directory watcher run alongside.

Example:
  eggsync run --config /etc/eggsync/eggsync.yaml
  eggsync run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("component stopped", "component", name, "err", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
				cancel()
			}
		}()
	}

	start("monitor", a.monitor.Run)
	start("worker", a.worker.Run)
	if a.cfg.HTTP.Enabled {
		srv := httpapi.NewServer(httpapi.Deps{
			Status:    a.queue,
			Recorder:  a.ingest,
			Worker:    a.worker,
			Monitor:   a.monitor,
			Summaries: a.docs,
			Logger:    a.logger,
		})
		start("http", func(ctx context.Context) error { return srv.Run(ctx, a.cfg.HTTP.Addr) })
	}
	if a.cfg.Spool.Enabled {
		spool, err := ingest.NewSpoolWatcher(a.cfg.Spool.Dir, a.ingest,
			ingest.WithRescanInterval(a.cfg.Spool.RescanInterval),
			ingest.WithSpoolLogger(a.logger),
		)
		if err != nil {
			cancel()
			wg.Wait()
			return WrapExitError(ExitCommandError, "failed to start spool watcher", err)
		}
		start("spool", spool.Run)
	}

	a.logger.Info("eggsync running", "device_id", a.deviceID(ctx), "queue", a.cfg.Queue.Path,
		"remote", a.cfg.Remote.Backend, "blob", a.cfg.Blob.Backend)
	fmt.Fprintln(cmd.OutOrStdout(), "eggsync running. Press Ctrl-C to stop.")

	wg.Wait()
	if len(errs) > 0 {
		return WrapExitError(ExitFailure, "daemon error", errors.Join(errs...))
	}
	a.logger.Info("eggsync stopped gracefully")
	return nil
}
