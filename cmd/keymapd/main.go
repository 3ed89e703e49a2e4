// keymapd is a host-side keyboard remapping daemon. It captures key events
// from input devices, runs them through a layered keymap engine with
// tap/hold state machines on a fixed tick, and emits HID reports through a
// virtual output device.
//
//	keymapd run           Run the daemon
//	keymapd check         Validate the configuration and keymap
//	keymapd init          Write a default config and starter keymap
//	keymapd devices       List candidate input devices
//	keymapd record        Record key events to a journal segment
//	keymapd replay        Replay a journal segment through the engine
//	keymapd version       Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keymapd/internal/config"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

var cfgFile string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keymapd",
		Short:         "Layered keymap engine and remapping daemon",
		Long: `keymapd remaps keyboards in software: a debounced event pipeline,
layered keymaps with tap/hold and one-shot semantics, and HID report
output through a virtual device. Control it at runtime with keymapctl.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default "+config.ConfigPath()+")")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newDevicesCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keymapd %s\n", Version)
		},
	}
}

// loadConfig loads the config file (or defaults when none exists) and
// applies environment overrides.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
