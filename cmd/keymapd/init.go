package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"keymapd/internal/config"
)

// starterKeymap is the keymap `keymapd init` writes. The matrix folds
// Linux key codes 32 per row, so the grid is an identity map of the common
// code range (0..127) with two illustrative remaps: space is a layer-tap
// into a vim-style nav layer, and caps lock is ctrl when held, escape when
// tapped.
const starterKeymap = `name = "default"

[matrix]
rows = 4
cols = 32

# Row r, column c is Linux key code r*32+c. "_____" falls through to lower
# layers, "XXXXX" does nothing.

[[layers]]
name = "base"
keys = [
  [
    "XXXXX", "ESC", "1", "2", "3", "4", "5", "6",
    "7", "8", "9", "0", "MINUS", "EQUAL", "BSPC", "TAB",
    "Q", "W", "E", "R", "T", "Y", "U", "I",
    "O", "P", "LBRC", "RBRC", "ENTER", "LCTL", "A", "S",
  ],
  [
    "D", "F", "G", "H", "J", "K", "L", "SCLN",
    "QUOT", "GRV", "LSFT", "BSLS", "Z", "X", "C", "V",
    "B", "N", "M", "COMM", "DOT", "SLSH", "RSFT", "PAST",
    "LALT", "LT(1,SPC)", "MT(LCTL,ESC)", "F1", "F2", "F3", "F4", "F5",
  ],
  [
    "F6", "F7", "F8", "F9", "F10", "NUM", "SCRL", "P7",
    "P8", "P9", "PMNS", "P4", "P5", "P6", "PPLS", "P1",
    "P2", "P3", "P0", "PDOT", "XXXXX", "XXXXX", "NUBS", "F11",
    "F12", "XXXXX", "XXXXX", "XXXXX", "XXXXX", "XXXXX", "XXXXX", "XXXXX",
  ],
  [
    "PENT", "RCTL", "PSLS", "PSCR", "RALT", "XXXXX", "HOME", "UP",
    "PGUP", "LEFT", "RIGHT", "END", "DOWN", "PGDN", "INS", "DEL",
    "XXXXX", "MUTE", "VOLD", "VOLU", "PWR", "PEQL", "XXXXX", "PAUS",
    "XXXXX", "XXXXX", "XXXXX", "XXXXX", "XXXXX", "LGUI", "RGUI", "APP",
  ],
]

[[layers]]
name = "nav"
keys = [
  [
    "_____", "_____", "F1", "F2", "F3", "F4", "F5", "F6",
    "F7", "F8", "F9", "F10", "F11", "F12", "DEL", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "HOME", "_____",
  ],
  [
    "PGDN", "END", "_____", "LEFT", "DOWN", "UP", "RIGHT", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "MUTE", "VOLD", "VOLU", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
  ],
  [
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
  ],
  [
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
    "_____", "_____", "_____", "_____", "_____", "_____", "_____", "_____",
  ],
]
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and starter keymap",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.ConfigPath()
			}

			cfg, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Wrote config: %s\n", path)
			} else {
				fmt.Printf("Config exists: %s\n", path)
			}

			kmPath := cfg.Keymap.Path
			if _, err := os.Stat(kmPath); err == nil && !force {
				fmt.Printf("Keymap exists: %s (use --force to overwrite)\n", kmPath)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(kmPath), 0700); err != nil {
				return err
			}
			if err := os.WriteFile(kmPath, []byte(starterKeymap), 0600); err != nil {
				return err
			}
			fmt.Printf("Wrote keymap: %s\n", kmPath)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  1. Edit the keymap, then 'keymapd check'")
			fmt.Println("  2. Run the daemon with 'keymapd run'")
			fmt.Println("  3. Inspect it with 'keymapctl status'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keymap")
	return cmd
}
