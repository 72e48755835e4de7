package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Terminal client for tether chat servers",
		Long: `Tether is a chat client engine with a small terminal frontend.

The interesting parts live in the library packages: a persistent
WebSocket session with reconnect and heartbeat, and a conversation
reconciler that merges paginated history with the live event stream.
The CLI wires them to a terminal for demos and debugging.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ~/.config/tether/config.yaml)")

	rootCmd.AddCommand(
		watchCmd(),
		sendCmd(),
		devserverCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
