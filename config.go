package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A training run is fully described by one YAML file. The CLI may override
// any field with dotted arguments:
//
//   trainrig train run.yaml --optimizer.lr=3e-4 --trainer.max_steps=500
//
// Loading works in three stages:
//
//   1. Parse the YAML into a generic map
//   2. Patch the map with the dotted overrides
//   3. Re-encode and strictly decode into TrainConfig over the defaults
//
// The strict decode (KnownFields) means a typoed key anywhere, in the file
// or in an override, fails loudly instead of silently training with the
// default value.
//
// ===========================================================================

// EnvRunName names the environment variable consulted for a default run
// name when the config leaves run_name empty.
const EnvRunName = "TRAINRIG_RUN_NAME"

// OptimizerConfig selects and parameterizes the optimizer.
type OptimizerConfig struct {
	Name        string  `yaml:"name"` // "adamw" (default) or "sgd"
	LR          float64 `yaml:"lr"`
	Beta1       float64 `yaml:"beta1"`
	Beta2       float64 `yaml:"beta2"`
	Eps         float64 `yaml:"eps"`
	WeightDecay float64 `yaml:"weight_decay"`
}

// SchedulerConfig selects and parameterizes the learning rate scheduler.
type SchedulerConfig struct {
	Name        string  `yaml:"name"`
	WarmupSteps int     `yaml:"warmup_steps"`
	AlphaF      float64 `yaml:"alpha_f"` // Final LR as a fraction of the base LR
}

// AlgorithmConfig names one training algorithm and its keyword arguments.
type AlgorithmConfig struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

// LoggerConfig names one destination for training metrics.
type LoggerConfig struct {
	Name string `yaml:"name"` // "console" or "jsonl"
	Path string `yaml:"path"` // Output file for file-backed loggers
}

// DataConfig describes the training corpus.
type DataConfig struct {
	Path        string  `yaml:"path"`    // File or directory
	Pattern     string  `yaml:"pattern"` // Glob within a directory, e.g. "*.txt"
	ValFraction float64 `yaml:"val_fraction"`
	ShuffleSeed int64   `yaml:"shuffle_seed"`
}

// TokenizerConfig selects and parameterizes the tokenizer.
type TokenizerConfig struct {
	Name      string `yaml:"name"`       // "bpe" (default), "char" or "huggingface"
	VocabSize int    `yaml:"vocab_size"` // Target vocab for trained tokenizers
	Path      string `yaml:"path"`       // Saved tokenizer file, trained if absent
}

// TrainerConfig parameterizes the training loop itself.
type TrainerConfig struct {
	Epochs             int    `yaml:"epochs"`
	MaxSteps           int    `yaml:"max_steps"` // 0 means run all epochs
	BatchSize          int    `yaml:"batch_size"`
	LogInterval        int    `yaml:"log_interval"`
	EvalInterval       int    `yaml:"eval_interval"` // 0 disables evaluation
	CheckpointInterval int    `yaml:"checkpoint_interval"`
	CheckpointDir      string `yaml:"checkpoint_dir"`
}

// TrainConfig is the root of the run configuration.
type TrainConfig struct {
	RunName string `yaml:"run_name"`
	Seed    int64  `yaml:"seed"`

	Model     Config          `yaml:"model"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Data      DataConfig      `yaml:"data"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Algorithms []AlgorithmConfig `yaml:"algorithms"`
	Loggers    []LoggerConfig    `yaml:"loggers"`

	Trainer TrainerConfig `yaml:"trainer"`
}

// DefaultTrainConfig returns a config that trains a small model with sane
// hyperparameters. Loaded files are decoded over these values.
func DefaultTrainConfig() TrainConfig {
	model := DefaultConfig()
	model.VocabSize = 0 // Resolved from the tokenizer at build time

	return TrainConfig{
		Seed:  1337,
		Model: model,
		Tokenizer: TokenizerConfig{
			Name:      "bpe",
			VocabSize: 1000,
		},
		Data: DataConfig{
			Pattern:     "*.txt",
			ValFraction: 0.1,
			ShuffleSeed: 42,
		},
		Optimizer: OptimizerConfig{
			Name:        "adamw",
			LR:          3e-4,
			Beta1:       0.9,
			Beta2:       0.999,
			Eps:         1e-8,
			WeightDecay: 0.01,
		},
		Scheduler: SchedulerConfig{
			Name:        "constant_with_warmup",
			WarmupSteps: 100,
		},
		Loggers: []LoggerConfig{{Name: "console"}},
		Trainer: TrainerConfig{
			Epochs:             1,
			BatchSize:          8,
			LogInterval:        10,
			CheckpointInterval: 500,
			CheckpointDir:      "checkpoints",
		},
	}
}

// parseOverride splits a "--dotted.key=value" argument into its key path
// and a YAML-parsed value.
func parseOverride(arg string) ([]string, any, error) {
	body := strings.TrimPrefix(arg, "--")
	key, rawValue, found := strings.Cut(body, "=")
	if !found || key == "" {
		return nil, nil, configErrorf("overrides", "malformed override %q, want --key.path=value", arg)
	}

	// Let YAML type the value the same way it would in the file, so
	// --optimizer.lr=3e-4 stays a float and --trainer.epochs=3 an int.
	var value any
	if err := yaml.Unmarshal([]byte(rawValue), &value); err != nil {
		return nil, nil, configErrorf("overrides", "cannot parse value of %q: %v", arg, err)
	}

	return strings.Split(key, "."), value, nil
}

// applyOverride patches one dotted path into the generic config map,
// creating intermediate maps as needed.
func applyOverride(doc map[string]any, path []string, value any) error {
	current := doc
	for _, segment := range path[:len(path)-1] {
		next, ok := current[segment]
		if !ok || next == nil {
			child := map[string]any{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return configErrorf("overrides", "cannot override %s: %q is not a mapping", strings.Join(path, "."), segment)
		}
		current = child
	}
	current[path[len(path)-1]] = value
	return nil
}

// LoadTrainConfig reads a YAML run configuration, applies dotted overrides
// and decodes it strictly over the defaults. Unknown keys anywhere are a
// ConfigError.
func LoadTrainConfig(path string, overrides []string) (TrainConfig, error) {
	cfg := DefaultTrainConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, configErrorf("config", "cannot parse %s: %v", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	for _, arg := range overrides {
		keyPath, value, err := parseOverride(arg)
		if err != nil {
			return cfg, err
		}
		if err := applyOverride(doc, keyPath, value); err != nil {
			return cfg, err
		}
	}

	patched, err := yaml.Marshal(doc)
	if err != nil {
		return cfg, fmt.Errorf("failed to re-encode config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(patched))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, configErrorf("config", "invalid configuration: %v", err)
	}

	if cfg.RunName == "" {
		cfg.RunName = defaultRunName()
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// defaultRunName takes the run name from the environment, falling back to
// a random one.
func defaultRunName() string {
	if name := os.Getenv(EnvRunName); name != "" {
		return name
	}
	return "run-" + uuid.NewString()[:8]
}

// Validate checks cross-field constraints that the decoder cannot.
func (c *TrainConfig) Validate() error {
	if c.Model.SeqLen < 2 {
		return configErrorf("model.seq_len", "must be at least 2, got %d", c.Model.SeqLen)
	}
	if c.Model.EmbedDim < 1 || c.Model.NumHeads < 1 || c.Model.NumLayers < 1 {
		return configErrorf("model", "embed_dim, num_heads and num_layers must be positive")
	}
	if c.Model.EmbedDim%c.Model.NumHeads != 0 {
		return configErrorf("model", "embed_dim %d not divisible by num_heads %d", c.Model.EmbedDim, c.Model.NumHeads)
	}
	if c.Optimizer.LR <= 0 {
		return configErrorf("optimizer.lr", "must be positive, got %v", c.Optimizer.LR)
	}
	if c.Trainer.BatchSize < 1 {
		return configErrorf("trainer.batch_size", "must be at least 1, got %d", c.Trainer.BatchSize)
	}
	if c.Trainer.Epochs < 1 && c.Trainer.MaxSteps < 1 {
		return configErrorf("trainer", "need epochs or max_steps")
	}
	if c.Data.ValFraction < 0 || c.Data.ValFraction >= 1 {
		return configErrorf("data.val_fraction", "must be in [0,1), got %v", c.Data.ValFraction)
	}
	return nil
}
