package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	DeviceID   string     `json:"device_id"`
	Pending    int64      `json:"pending"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	LastSyncAt *time.Time `json:"last_sync_at"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local queue counts and the last sync time",
		Long: `Show how many detections are pending, synced and dead-lettered in the
local queue. Reads the queue only; no network access.

Example:
  eggsync status
  eggsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read queue", err)
	}
	last, ok, err := a.queue.LastSync(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read last sync", err)
	}
	deviceID, err := a.queue.DeviceID(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read device id", err)
	}

	res := StatusResult{
		DeviceID: deviceID,
		Pending:  counts.Pending,
		Synced:   counts.Synced,
		Failed:   counts.Failed,
	}
	if ok {
		res.LastSyncAt = &last
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Device:   %s\n", res.DeviceID)
		fmt.Fprintf(w, "Pending:  %d\n", res.Pending)
		fmt.Fprintf(w, "Synced:   %d\n", res.Synced)
		fmt.Fprintf(w, "Failed:   %d\n", res.Failed)
		if res.LastSyncAt != nil {
			fmt.Fprintf(w, "Last sync: %s\n", res.LastSyncAt.Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "Last sync: never")
		}
	})
}
