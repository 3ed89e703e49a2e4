// keymapctl is the control CLI for keymapd. It talks to the daemon over
// the Unix control socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keymapd/internal/config"
	"keymapd/internal/ipc"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

var (
	cfgFile    string
	socketPath string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keymapctl",
		Short:         "Control a running keymapd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.ConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "control socket path (default from config)")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLayersCmd())
	rootCmd.AddCommand(newLayerCmd())
	rootCmd.AddCommand(newKeymapCmd())
	rootCmd.AddCommand(newSetKeyCmd())
	rootCmd.AddCommand(newClearKeyCmd())
	rootCmd.AddCommand(newReloadCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newMetricsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newShutdownCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("keymapctl %s\n", Version)
		},
	}
}

// connect dials the daemon. The socket path comes from the flag, the
// config file, or the platform default, in that order.
func connect() (*ipc.IPCClient, error) {
	path := socketPath
	if path == "" {
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = config.ConfigPath()
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg.ApplyEnvOverrides()
		path = cfg.IPC.SocketPath
	}

	clientCfg := ipc.DefaultClientConfig(path)
	clientCfg.ClientVersion = Version
	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is keymapd running?)", path, err)
	}
	return client, nil
}

// withClient runs fn against a connected client and closes it after.
func withClient(fn func(*ipc.IPCClient) error) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
