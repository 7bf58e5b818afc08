package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	OlderThan time.Duration
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synced detections from the local queue",
		Long: `Delete synced detections (and their uploaded images) from the local queue.
Pending and dead-lettered records are never removed.

Example:
  eggsync purge                    # every synced record
  eggsync purge --older-than 168h  # synced more than a week ago`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "only purge records synced longer ago than this")
	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	if opts.OlderThan < 0 {
		return NewExitError(ExitCommandError, "--older-than must not be negative")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var cutoff time.Time
	if opts.OlderThan > 0 {
		cutoff = time.Now().Add(-opts.OlderThan)
	}
	res, err := a.queue.PurgeSynced(ctx, cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "purge failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Purged %d events, %d blobs\n", res.Events, res.Blobs)
	})
}
