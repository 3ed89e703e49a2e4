package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keymapd/internal/config"
	"keymapd/internal/layout"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and keymap",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ok := true
			if err := cfg.Validate(); err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					for _, w := range verrs.Warnings() {
						fmt.Printf("config warning: %s\n", w.Error())
					}
					for _, e := range verrs.Errors() {
						fmt.Printf("config error: %s\n", e.Error())
						ok = false
					}
				} else {
					fmt.Printf("config error: %v\n", err)
					ok = false
				}
			}
			fmt.Printf("Config:    %s\n", configSource())

			km, err := layout.Load(cfg.Keymap.Path)
			if err != nil {
				fmt.Printf("keymap error: %v\n", err)
				ok = false
			} else {
				fmt.Printf("Keymap:    %s (%s)\n", km.Name, cfg.Keymap.Path)
				fmt.Printf("Matrix:    %dx%d\n", km.Rows, km.Cols)
				fmt.Printf("Layers:    %d", len(km.Layers))
				for i := range km.Layers {
					if i == 0 {
						fmt.Printf(" (")
					} else {
						fmt.Printf(", ")
					}
					fmt.Print(km.Layers[i].Name)
				}
				if len(km.Layers) > 0 {
					fmt.Printf(")")
				}
				fmt.Println()
				fmt.Printf("Macros:    %d\n", len(km.Macros))
				fmt.Printf("Fingerprint: %s\n", km.Fingerprint())
			}

			fmt.Printf("Transport: %s\n", cfg.Transport.Type)
			fmt.Printf("Tick rate: %d Hz, debounce %d ms, tap/hold %d ms\n",
				cfg.Engine.TickHz, cfg.Engine.DebounceMs, cfg.Engine.TapHoldMs)

			if !ok {
				os.Exit(1)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	path := config.ConfigPath()
	if _, err := os.Stat(path); err != nil {
		return path + " (not present, defaults in effect)"
	}
	return path
}
