package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"keymapd/internal/device"
	"keymapd/internal/journal"
	"keymapd/internal/logging"
)

func newRecordCmd() *cobra.Command {
	var (
		output   string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record key events to a journal segment",
		Long: `Record captures debounced key events from the configured input devices
into a journal segment for later replay. Capture is never grabbed while
recording, so the keyboard keeps working normally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			logging.SetDefault(log)

			path := output
			if path == "" {
				path = filepath.Join(cfg.Journal.Dir, journal.SegmentName(time.Now()))
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			jw, err := journal.Create(path, cfg.Engine.TickHz, journal.WriterOptions{
				MaxSizeBytes: cfg.Journal.MaxSizeBytes,
				FlushEvery:   cfg.Journal.FlushEvery,
			})
			if err != nil {
				return err
			}

			sink := newJournalSink(nil, jw, cfg.Engine.TickHz, log)
			capt, err := device.NewCapture(sink, device.Options{
				Include: cfg.Capture.IncludePatterns,
				Exclude: cfg.Capture.ExcludePatterns,
				Grab:    false,
				Logger:  log,
			})
			if err != nil {
				jw.Close()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if err := capt.Start(ctx); err != nil {
				jw.Close()
				return err
			}
			fmt.Printf("Recording to %s (Ctrl+C to stop)\n", path)

			<-ctx.Done()
			capt.Stop()
			if err := jw.Close(); err != nil {
				return err
			}
			fmt.Printf("Recorded %d events.\n", jw.RecordCount())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "journal segment path")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	return cmd
}
