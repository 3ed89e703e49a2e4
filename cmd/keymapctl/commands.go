package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"keymapd/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				st, err := c.Status()
				if err != nil {
					return err
				}

				d := st.Daemon
				e := st.Engine
				fmt.Println("=== keymapd Status ===")
				fmt.Printf("Version:     %s (PID %d)\n", d.Version, d.PID)
				fmt.Printf("Uptime:      %s\n", d.Uptime.Round(time.Second))
				fmt.Printf("Keymap:      %s (%s)\n", e.Keymap, d.KeymapPath)
				fmt.Printf("Fingerprint: %s\n", e.Fingerprint)
				fmt.Printf("Transport:   %s\n", d.Transport)
				if len(d.Devices) > 0 {
					fmt.Printf("Devices:     %s\n", strings.Join(d.Devices, ", "))
				}
				fmt.Printf("Clients:     %d\n", d.Clients)
				fmt.Println()
				fmt.Printf("Tick:        %d @ %d Hz\n", e.Tick, e.TickHz)
				fmt.Printf("Layers:      active [%s], default %q\n",
					strings.Join(e.ActiveLayers, ", "), e.DefaultLayer)
				if e.OneShot != "" {
					fmt.Printf("One-shot:    %s armed\n", e.OneShot)
				}
				mode := "6KRO boot"
				if e.NKRO {
					mode = "NKRO"
				}
				fmt.Printf("Reports:     %s\n", mode)
				fmt.Println()
				cnt := e.Counters
				fmt.Printf("Presses:     %d (%d taps, %d holds)\n", cnt.Presses, cnt.Taps, cnt.Holds)
				fmt.Printf("Reports:     %d queued, %d dropped\n", cnt.ReportsQueued, cnt.ReportsDropped)
				if cnt.ChatterSuppressed > 0 || cnt.EventsDropped > 0 {
					fmt.Printf("Noise:       %d chatter suppressed, %d events dropped\n",
						cnt.ChatterSuppressed, cnt.EventsDropped)
				}
				return nil
			})
		},
	}
}

func newLayersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers",
		Short: "List the keymap's layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.Layers()
				if err != nil {
					return err
				}
				fmt.Printf("%-6s %-16s %-8s %s\n", "Index", "Name", "Active", "Default")
				for _, l := range resp.Layers {
					active := ""
					if l.Active {
						active = "yes"
					}
					def := ""
					if l.Default {
						def = "yes"
					}
					fmt.Printf("%-6d %-16s %-8s %s\n", l.Index, l.Name, active, def)
				}
				return nil
			})
		},
	}
}

func newLayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layer <activate|deactivate|toggle|default> <index>",
		Short: "Operate on the layer stack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			layer, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("layer index %q is not a number", args[1])
			}
			return withClient(func(c *ipc.IPCClient) error {
				var resp *ipc.LayerResponse
				switch args[0] {
				case "activate":
					resp, err = c.ActivateLayer(layer)
				case "deactivate":
					resp, err = c.DeactivateLayer(layer)
				case "toggle":
					resp, err = c.ToggleLayer(layer)
				case "default":
					resp, err = c.SetDefaultLayer(layer)
				default:
					return fmt.Errorf("unknown layer operation %q", args[0])
				}
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%s", resp.Error)
				}
				fmt.Printf("Active: [%s], default %q\n",
					strings.Join(resp.ActiveLayers, ", "), resp.DefaultLayer)
				return nil
			})
		},
	}
	return cmd
}

func newKeymapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keymap",
		Short: "Show the running keymap and its overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.GetKeymap()
				if err != nil {
					return err
				}
				fmt.Printf("Keymap:      %s (%s)\n", resp.Name, resp.Path)
				fmt.Printf("Fingerprint: %s\n", resp.Fingerprint)
				fmt.Printf("Matrix:      %dx%d\n", resp.Rows, resp.Cols)
				fmt.Printf("Layers:      %s\n", strings.Join(resp.Layers, ", "))
				if len(resp.Overrides) > 0 {
					fmt.Println("\nOverrides:")
					for _, ov := range resp.Overrides {
						fmt.Printf("  layer %d r%dc%d -> %s\n", ov.Layer, ov.Row, ov.Col, ov.Action)
					}
				}
				return nil
			})
		},
	}
}

func newSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <layer> <row> <col> <action>",
		Short: "Rebind a key position at runtime",
		Long: `Set-key rebinds one position on one layer of the running keymap, for
example:

    keymapctl set-key 0 1 26 "MT(LCTL,ESC)"

The override persists across restarts until the keymap file changes or
the key is cleared with clear-key.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			layer, row, col, err := parsePosition(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.SetKey(layer, row, col, args[3])
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%s", resp.Error)
				}
				fmt.Printf("layer %d r%dc%d: %s -> %s\n", layer, row, col, resp.Previous, resp.Action)
				if resp.Error != "" {
					fmt.Fprintf(os.Stderr, "Warning: %s\n", resp.Error)
				}
				return nil
			})
		},
	}
}

func newClearKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-key <layer> <row> <col>",
		Short: "Remove an override and restore the compiled action",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			layer, row, col, err := parsePosition(args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.ClearKey(layer, row, col)
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("%s", resp.Error)
				}
				fmt.Printf("layer %d r%dc%d: %s -> %s\n", layer, row, col, resp.Previous, resp.Action)
				return nil
			})
		},
	}
}

func shorten(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func parsePosition(layerArg, rowArg, colArg string) (layer int, row, col uint8, err error) {
	layer, err = strconv.Atoi(layerArg)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("layer %q is not a number", layerArg)
	}
	r, err := strconv.ParseUint(rowArg, 10, 8)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("row %q is not a valid row", rowArg)
	}
	c, err := strconv.ParseUint(colArg, 10, 8)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("col %q is not a valid column", colArg)
	}
	return layer, uint8(r), uint8(c), nil
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Recompile and swap in the keymap file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.ReloadKeymap()
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("keymap rejected: %s", resp.Error)
				}
				fmt.Printf("Reloaded %s (%d layers, fingerprint %s)\n",
					resp.Name, resp.Layers, resp.Fingerprint)
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		format  string
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upload a keymap file to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				switch strings.ToLower(filepath.Ext(args[0])) {
				case ".json":
					format = "json"
				case ".yaml", ".yml":
					format = "yaml"
				default:
					format = "toml"
				}
			}
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.ImportKeymap(format, data, persist)
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("keymap rejected: %s", resp.Error)
				}
				fmt.Printf("Imported %s (%d layers, fingerprint %s)\n",
					resp.Name, resp.Layers, resp.Fingerprint)
				if resp.Persisted {
					fmt.Println("Written to the daemon's keymap path.")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "keymap format: toml, yaml, json (default from extension)")
	cmd.Flags().BoolVar(&persist, "persist", false, "write the keymap to the daemon's keymap path")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		topN     int
		sessions int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show key usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				resp, err := c.Stats(topN, sessions)
				if err != nil {
					return err
				}
				fmt.Printf("Keymap %s: %d presses (%d taps, %d holds) over %d sessions\n",
					shorten(resp.Fingerprint, 12), resp.Presses, resp.Taps, resp.Holds, resp.Sessions)
				if len(resp.Top) > 0 {
					fmt.Println("\nTop keys:")
					fmt.Printf("  %-10s %-9s %-7s %s\n", "Position", "Presses", "Taps", "Holds")
					for _, k := range resp.Top {
						fmt.Printf("  r%-3dc%-5d %-9d %-7d %d\n", k.Row, k.Col, k.Presses, k.Taps, k.Holds)
					}
				}
				if len(resp.Recent) > 0 {
					fmt.Println("\nRecent sessions:")
					for _, s := range resp.Recent {
						end := "active"
						if !s.Active {
							end = s.EndedAt.Format(time.RFC3339)
						}
						fmt.Printf("  %s  %s  %s .. %s\n",
							shorten(s.ID, 8), s.Keymap, s.StartedAt.Format(time.RFC3339), end)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&topN, "top", 10, "number of top keys to show")
	cmd.Flags().IntVar(&sessions, "sessions", 5, "number of recent sessions to show")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Dump the daemon's metrics in text exposition format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				text, err := c.Metrics()
				if err != nil {
					return err
				}
				fmt.Print(text)
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				if _, err := c.Subscribe(); err != nil {
					return err
				}

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(sigCh)

				fmt.Println("Watching events (Ctrl+C to stop)")
				for {
					select {
					case <-sigCh:
						return nil
					case ev, ok := <-c.Events():
						if !ok {
							return nil
						}
						printEvent(ev)
						if ev.Type == ipc.EventDaemonShutdown {
							fmt.Println("Daemon shut down.")
							return nil
						}
					}
				}
			})
		},
	}
}

func printEvent(ev *ipc.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Type {
	case ipc.EventLayerChange:
		fmt.Printf("[%s] layer change: %v\n", ts, ev.Data)
	case ipc.EventKeymapSwap:
		fmt.Printf("[%s] keymap swap: %v\n", ts, ev.Data)
	case ipc.EventReportDrop:
		fmt.Printf("[%s] reports dropped: %v\n", ts, ev.Data)
	case ipc.EventDaemonShutdown:
		fmt.Printf("[%s] daemon shutting down\n", ts)
	default:
		fmt.Printf("[%s] event %d: %v\n", ts, ev.Type, ev.Data)
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *ipc.IPCClient) error {
				if err := c.Shutdown(); err != nil {
					return err
				}
				fmt.Println("Shutdown requested.")
				return nil
			})
		},
	}
}
