package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/ingest"
	"github.com/roach88/eggsync/internal/queue"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Label       string
	Confidence  float64
	BatchID     string
	DeviceID    string
	Timestamp   string
	ImagePath   string
	ContentType string
}

// RecordResult is the output of the record command.
type RecordResult struct {
	LocalID int64 `json:"local_id"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one detection into the local queue",
		Long: `Record a detection durably into the local queue. Does not touch the network;
the running daemon or "eggsync sync" uploads it later.

Example:
  eggsync record --label cracked --confidence 0.93 --batch B-2026-10-19
  eggsync record --label dirty --confidence 0.71 --image frame.jpg`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Label, "label", "l", "", "detection label (good|dirty|cracked|other)")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 1, "model confidence in [0,1]")
	cmd.Flags().StringVarP(&opts.BatchID, "batch", "b", "", "batch id (default \"default\")")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "device id (default: configured or generated id)")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "capture time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&opts.ImagePath, "image", "", "path to the captured image")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "", "image content type (default: sniffed)")
	_ = cmd.MarkFlagRequired("label")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	d := event.Detection{
		BatchID:    opts.BatchID,
		Label:      opts.Label,
		Confidence: opts.Confidence,
		DeviceID:   opts.DeviceID,
	}
	if opts.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, opts.Timestamp)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --timestamp", err)
		}
		d.Timestamp = ts
	}

	var img *event.ImageInput
	if opts.ImagePath != "" {
		data, err := os.ReadFile(opts.ImagePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read image", err)
		}
		ct := opts.ContentType
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		img = &event.ImageInput{Data: data, ContentType: ct}
	}

	a, err := openApp(ctx, opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	api := ingest.New(a.queue, nil, nil, ingest.WithLogger(a.logger))
	id, err := api.Record(ctx, d, img)
	switch {
	case err == nil:
	case queue.IsStorageError(err):
		return outputError(out, ErrCodeStorage, ExitFailure, "detection not stored", err)
	case errors.Is(err, ingest.ErrInvalidDetection):
		return outputError(out, ErrCodeInvalidDetection, ExitCommandError, "invalid detection", err)
	default:
		return outputError(out, ErrCodeGeneric, ExitFailure, "record failed", err)
	}

	return out.Success(RecordResult{LocalID: id}, func(w io.Writer) {
		fmt.Fprintf(w, "Recorded detection %d\n", id)
	})
}
