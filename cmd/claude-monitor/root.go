package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-monitor/internal/config"
)

var (
	cfgFile   string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "claude-monitor",
	Short: "Activity and turn-cycle tracking for terminal AI agent sessions",
	Long: `claude-monitor watches terminal sessions running interactive AI coding
agents, classifies each session's activity state (idle, processing,
input needed), and correlates submitted commands with completed
responses in an append-only JSONL log.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.claude-monitor/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable verbose logging")
}

// loadConfig resolves the config path and loads it. A parse error is
// reported but does not abort; the defaults keep the monitor usable.
func loadConfig() (*config.Config, string) {
	path := cfgFile
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, path
}
