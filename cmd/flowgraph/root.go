package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kingrea/flowgraph/internal/config"
	"github.com/kingrea/flowgraph/internal/logging"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// verbose mirrors log lines to stderr.
	verbose bool
	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowgraph",
	Short: "Run shell-command task graphs on a single host.",
	Long: `flowgraph builds a dependency graph of shell commands from unit definitions,
renders every command up front and runs the graph with a polling scheduler that
caps concurrency, persists progress and resumes after a crash.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		loaded, err := config.Load(cfgFile, wd)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./flowgraph.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror log lines to stderr")
}

// openLogger creates the run log under outputDir.
func openLogger(outputDir string) (*logging.Logger, error) {
	opts := logging.Options{Level: cfg.LogLevel}
	if verbose || cfg.LogConsole {
		opts.Console = os.Stderr
	}
	return logging.New(outputDir, opts)
}
