package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keymapd/internal/config"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := validateForRun(cfg); err != nil {
				return err
			}

			d, err := newDaemon(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.run(ctx)
		},
	}
}

// validateForRun prints warnings and fails on hard config errors.
func validateForRun(cfg *config.Config) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, w := range verrs.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w.Error())
	}
	if hard := verrs.Errors(); len(hard) > 0 {
		return hard
	}
	return nil
}
