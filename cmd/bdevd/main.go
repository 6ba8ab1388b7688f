// Command bdevd is the control-plane front end for a replicated block
// volume manager: it hosts the in-process Registry/Controller, exposes a
// small HTTP control API and a Prometheus metrics endpoint, and ships a
// cobra-based CLI (`bdevd volume ...`, `bdevd apply`) that talks to that
// API over plain HTTP/JSON.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/repvol/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bdevd",
	Short:   "bdevd - replicated block volume manager",
	Version: Version,
	Long: `bdevd manages replicated block volumes: a volume fans reads out to one
base replica and writes out to all of them, aggregating completions and
quiescing I/O while replica membership changes live.

Run "bdevd serve" to host the control-plane API and metrics endpoint, then
drive it with the "volume" subcommands or "bdevd apply -f config.yaml".`,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bdevd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:9091", "bdevd control API address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
