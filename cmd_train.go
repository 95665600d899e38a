package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// newTrainCmd builds the train subcommand. Flag parsing is disabled so the
// dotted override arguments reach the config loader untouched instead of
// being rejected as unknown cobra flags.
func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "train <config.yaml> [--dotted.key=value ...]",
		Short:              "Run a training job from a YAML config",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if arg == "-h" || arg == "--help" {
					return cmd.Help()
				}
			}
			return runTrain(args)
		},
	}
	return cmd
}

// runTrain validates the argument list, loads the config and runs the
// trainer. Split out from the cobra wiring so tests can call it directly.
func runTrain(args []string) error {
	if len(args) == 0 {
		return usageErrorf("missing config path, want: train <config.yaml> [--dotted.key=value ...]")
	}

	configPath := args[0]
	if strings.HasPrefix(configPath, "--") {
		return usageErrorf("first argument must be the config path, got override %q", configPath)
	}

	overrides := args[1:]
	for _, o := range overrides {
		if !strings.HasPrefix(o, "--") || !strings.Contains(o, "=") {
			return usageErrorf("malformed override %q, want --dotted.key=value", o)
		}
	}

	cfg, err := LoadTrainConfig(configPath, overrides)
	if err != nil {
		return err
	}

	trainer, err := NewTrainer(cfg)
	if err != nil {
		return err
	}
	defer trainer.Close()

	return trainer.Fit()
}
