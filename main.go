package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// trainrig is a config-driven entry point for training small GPT-style
// language models. One YAML file describes the whole run; the CLI's job is
// to load it, let the command line override individual fields, assemble the
// trainer and hand off:
//
//   trainrig train run.yaml --optimizer.lr=1e-4
//   trainrig generate checkpoints/run-step000500.bin --prompt "func main"
//
// Exit codes: 0 success, 1 runtime failure, 2 usage or configuration
// error.
//
// ===========================================================================

var rootCmd = &cobra.Command{
	Use:   "trainrig",
	Short: "Config-driven trainer for small GPT-style language models",
	Long: `trainrig trains GPT-style language models from a single YAML run
configuration. Any field of the config can be overridden on the command
line with --dotted.key=value arguments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newGenerateCmd())
}

func main() {
	// A .env file is optional; absence is the normal case.
	_ = godotenv.Load()

	log.SetLevel(log.InfoLevel)
	if os.Getenv("TRAINRIG_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trainrig:", err)

		var cfgErr *ConfigError
		if errors.Is(err, ErrUsage) || errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
