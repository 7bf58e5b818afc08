package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/event"
)

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
	Date    string
	BatchID string
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Read a daily or batch rollup from the remote store",
		Long: `Read the aggregated counters for one day or one batch from the remote
document store.

Example:
  eggsync summary                       # today, in the configured time zone
  eggsync summary --date 2026-10-19
  eggsync summary --batch B-2026-10-19`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "day key YYYY-MM-DD (default today)")
	cmd.Flags().StringVarP(&opts.BatchID, "batch", "b", "", "batch id")
	cmd.MarkFlagsMutuallyExclusive("date", "batch")
	return cmd
}

func runSummary(opts *SummaryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	kind, key := aggregate.KindDaily, opts.Date
	switch {
	case opts.BatchID != "":
		kind, key = aggregate.KindBatch, opts.BatchID
	case key == "":
		key = event.DayKey(time.Now(), cfg.Location())
	default:
		if _, err := time.Parse(time.DateOnly, key); err != nil {
			return WrapExitError(ExitCommandError, "invalid --date", err)
		}
	}

	docs, err := openDocumentStore(ctx, cfg.Remote)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect remote", err)
	}
	defer docs.Close()

	s, err := aggregate.ReadSummary(ctx, docs, kind, key)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read summary", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(s, func(w io.Writer) {
		fmt.Fprintf(w, "%s summary %s: %d detections\n", s.Kind, s.Key, s.Total)
		labels := make([]string, 0, len(s.Labels))
		for l := range s.Labels {
			labels = append(labels, l)
		}
		slices.Sort(labels)
		for _, l := range labels {
			fmt.Fprintf(w, "  %-8s %d\n", l, s.Labels[l])
		}
	})
}
