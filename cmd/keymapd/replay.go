package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keymapd/internal/device"
	"keymapd/internal/engine"
	"keymapd/internal/journal"
	"keymapd/internal/layout"
	"keymapd/internal/transport"
)

func newReplayCmd() *cobra.Command {
	var keymapPath string

	cmd := &cobra.Command{
		Use:   "replay <segment>",
		Short: "Replay a journal segment through the engine",
		Long: `Replay feeds a recorded journal segment through a fresh engine and
prints the resulting reports. Replaying a segment against the keymap it
was recorded with reproduces the original report stream exactly, which
makes tap/hold timing problems reproducible offline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if keymapPath == "" {
				keymapPath = cfg.Keymap.Path
			}

			km, err := layout.Load(keymapPath)
			if err != nil {
				return err
			}

			r, err := journal.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			// Timing windows are re-derived at the segment's tick rate so
			// a recording replays identically regardless of the current
			// engine configuration.
			replayCfg := cfg.Clone()
			replayCfg.Engine.TickHz = r.TickHz()
			core, err := engine.NewCore(km, nil, replayCfg.EngineParams())
			if err != nil {
				return err
			}

			tr := transport.NewLog(os.Stdout)
			res, err := device.Replay(r, core, tr)
			if err != nil {
				return err
			}

			fmt.Printf("\nReplayed %d events over %d ticks (%d Hz): %d reports.\n",
				res.Events, res.Ticks, r.TickHz(), res.Reports)
			return nil
		},
	}

	cmd.Flags().StringVar(&keymapPath, "keymap", "", "keymap file (default: configured keymap)")
	return cmd
}
