package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newGenerateCmd builds the generate subcommand, which samples text from a
// saved checkpoint.
func newGenerateCmd() *cobra.Command {
	var (
		prompt      string
		maxTokens   int
		temperature float64
		topK        int
		topP        float64
		tokPath     string
		tokName     string
	)

	cmd := &cobra.Command{
		Use:   "generate <checkpoint.bin>",
		Short: "Generate text from a trained checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := LoadGPT(args[0])
			if err != nil {
				return err
			}

			if !fileExists(tokPath) {
				return fmt.Errorf("tokenizer file %s not found; pass --tokenizer", tokPath)
			}
			tokenizer, err := BuildTokenizer(TokenizerConfig{
				Name: tokName,
				Path: tokPath,
			}, nil)
			if err != nil {
				return err
			}

			promptIDs := tokenizer.Encode(prompt)
			if len(promptIDs) == 0 {
				return usageErrorf("prompt %q encodes to no tokens", prompt)
			}

			out := model.GenerateWithSampling(promptIDs, maxTokens, &SampleConfig{
				Temperature: temperature,
				TopK:        topK,
				TopP:        topP,
			})

			fmt.Fprintln(cmd.OutOrStdout(), tokenizer.Decode(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text to continue")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 100, "maximum tokens to generate")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.8, "sampling temperature, 0 for greedy")
	cmd.Flags().IntVar(&topK, "top-k", 0, "top-k sampling, 0 disables")
	cmd.Flags().Float64Var(&topP, "top-p", 0, "nucleus sampling threshold, 0 disables")
	cmd.Flags().StringVar(&tokPath, "tokenizer", "tokenizer.bpe", "tokenizer file saved during training")
	cmd.Flags().StringVar(&tokName, "tokenizer-kind", "bpe", "tokenizer kind: bpe, char or huggingface")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}
