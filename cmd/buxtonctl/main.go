// Command buxtonctl is the administrative CLI for buxtond: it can talk
// to a running daemon over its Unix socket, or open the configured
// storage layers directly for offline/maintenance use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buxton-project/buxtond/internal/config"
)

var (
	socketPath string
	configPath string
	direct     bool
)

func main() {
	root := &cobra.Command{
		Use:   "buxtonctl",
		Short: "Administrative client for the buxton configuration-store daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/buxton/buxtond.socket", "Daemon socket path (over-socket mode)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Daemon config file (direct mode; bypasses the socket)")
	root.PersistentFlags().BoolVar(&direct, "direct", false, "Open storage layers directly instead of dialing the daemon")

	root.AddCommand(
		createDBCmd(),
		createGroupCmd(),
		removeGroupCmd(),
		getCmd(),
		setCmd(),
		unsetCmd(),
		getLabelCmd(),
		setLabelCmd(),
		listNamesCmd(),
		checkCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDirectConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--direct requires --config")
	}
	return config.Load(configPath)
}
