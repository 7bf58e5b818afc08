package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/eggsync/internal/event"
)

// DeadLetterEntry describes one dead-lettered detection.
type DeadLetterEntry struct {
	LocalID    int64     `json:"local_id"`
	BatchID    string    `json:"batch_id"`
	Label      string    `json:"label"`
	CapturedAt time.Time `json:"captured_at"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
}

// NewDeadLetterCommand creates the deadletter command.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "List detections that exhausted their retries",
		Long: `List dead-lettered detections with their last error. These records are
never retried automatically and are never purged.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeadLetter(rootOpts, cmd)
		},
	}
}

func runDeadLetter(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	failed, err := a.queue.ListFailed(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read dead letters", err)
	}
	entries := deadLetterEntries(failed)

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No dead-lettered detections")
			return
		}
		for _, e := range entries {
			fmt.Fprintf(w, "#%d %s batch=%s retries=%d: %s\n",
				e.LocalID, e.Label, e.BatchID, e.RetryCount, e.LastError)
		}
	})
}

func deadLetterEntries(evs []event.DetectionEvent) []DeadLetterEntry {
	entries := make([]DeadLetterEntry, 0, len(evs))
	for _, ev := range evs {
		entries = append(entries, DeadLetterEntry{
			LocalID:    ev.LocalID,
			BatchID:    ev.BatchID,
			Label:      string(ev.Label),
			CapturedAt: ev.CapturedAt,
			RetryCount: ev.RetryCount,
			LastError:  ev.LastError,
		})
	}
	return entries
}
