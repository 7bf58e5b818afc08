package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Probe bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the queue once and exit",
		Long: `Run one sync drain against the configured remote and print a report.

By default the remote is assumed reachable. With --probe the connectivity
probe runs first and the command does nothing when it fails.

Exit codes:
  0 - every due record synced
  1 - some records are retrying or were dead-lettered
  2 - configuration or local storage error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Probe, "probe", false, "probe connectivity before syncing")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Probe {
		a.monitor.Check(ctx)
	} else {
		a.monitor.Set(true)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	report, err := a.worker.RunOnce(ctx)
	if err != nil {
		return outputError(out, ErrCodeSyncAborted, ExitCommandError, "sync aborted", err)
	}

	if err := out.Success(report, func(w io.Writer) {
		if report.Stopped && report.Attempted == 0 {
			fmt.Fprintln(w, "Remote unreachable, nothing synced")
			return
		}
		fmt.Fprintf(w, "Sync run %s: %d attempted, %d synced, %d retrying, %d dead-lettered\n",
			report.RunID, report.Attempted, report.Synced, report.Retrying, report.DeadLettered)
		for _, f := range report.Failures {
			fmt.Fprintf(w, "  #%d %s (%s, %s): %s\n", f.LocalID, f.State, f.Code, f.Kind, f.Error)
		}
		if report.Purged.Events > 0 || report.Purged.Blobs > 0 {
			fmt.Fprintf(w, "Purged %d events, %d blobs\n", report.Purged.Events, report.Purged.Blobs)
		}
	}); err != nil {
		return err
	}

	if len(report.Failures) > 0 || report.Stopped {
		return NewExitError(ExitFailure, "sync incomplete")
	}
	return nil
}
