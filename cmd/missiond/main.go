// Command missiond is the mission execution server. It wires the backing
// store, instrument executor, interpreter, scheduler, and event trigger
// router behind an HTTP control plane.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "missiond",
		Short: "missiond - mission execution server for remote scientific instruments",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to JSON config file (overrides MISSIONCTL_CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
