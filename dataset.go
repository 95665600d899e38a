package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The data pipeline for next-token prediction:
//
//   1. Read the corpus (one file, or every file matching a glob in a dir)
//   2. Tokenize each document once
//   3. Slice the token streams into fixed windows of seqLen+1 tokens:
//      input  = window[0 : seqLen]
//      target = window[1 : seqLen+1]
//      so position i learns to predict token i+1.
//   4. Shuffle deterministically per epoch, split off a validation tail
//
// Windows never cross document boundaries, so the model is not asked to
// predict the start of one file from the end of another.
//
// ===========================================================================

// Sequence is one training example: input tokens and their shifted targets.
type Sequence struct {
	Input  []int
	Target []int
}

// Dataset holds a set of training sequences.
type Dataset struct {
	sequences []Sequence
}

// LoadCorpus reads the configured corpus into memory, one string per file.
// cfg.Path may be a single file or a directory searched with cfg.Pattern.
func LoadCorpus(cfg DataConfig) ([]string, error) {
	if cfg.Path == "" {
		return nil, configErrorf("data.path", "no corpus path configured")
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus %s: %w", cfg.Path, err)
	}

	var paths []string
	if info.IsDir() {
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = "*.txt"
		}
		paths, err = filepath.Glob(filepath.Join(cfg.Path, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad corpus pattern %q: %w", pattern, err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no files match %s in %s", pattern, cfg.Path)
		}
		sort.Strings(paths)
	} else {
		paths = []string{cfg.Path}
	}

	corpus := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file %s: %w", p, err)
		}
		if len(data) > 0 {
			corpus = append(corpus, string(data))
		}
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("corpus at %s is empty", cfg.Path)
	}

	return corpus, nil
}

// BuildDataset tokenizes the corpus and windows it into sequences of
// seqLen input tokens each.
func BuildDataset(corpus []string, tok TextTokenizer, seqLen int) *Dataset {
	var sequences []Sequence

	for _, doc := range corpus {
		ids := tok.Encode(doc)

		// Non-overlapping windows of seqLen+1 tokens.
		for start := 0; start+seqLen+1 <= len(ids); start += seqLen {
			window := ids[start : start+seqLen+1]
			sequences = append(sequences, Sequence{
				Input:  window[:seqLen],
				Target: window[1:],
			})
		}
	}

	return &Dataset{sequences: sequences}
}

// Len returns the number of sequences.
func (d *Dataset) Len() int {
	return len(d.sequences)
}

// At returns the i-th sequence.
func (d *Dataset) At(i int) Sequence {
	return d.sequences[i]
}

// Split separates a validation tail of valFraction sequences, taken after a
// seeded shuffle so the tail is not just the last documents.
func (d *Dataset) Split(valFraction float64, seed int64) (train, val *Dataset) {
	shuffled := make([]Sequence, len(d.sequences))
	copy(shuffled, d.sequences)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nVal := int(float64(len(shuffled)) * valFraction)
	cut := len(shuffled) - nVal
	return &Dataset{sequences: shuffled[:cut]}, &Dataset{sequences: shuffled[cut:]}
}

// EpochOrder returns a deterministic permutation of sequence indices for
// the given epoch. Same seed and epoch, same order, so runs are repeatable.
func (d *Dataset) EpochOrder(seed int64, epoch int) []int {
	order := make([]int, len(d.sequences))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed + int64(epoch)))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// Batches groups a permutation of indices into batches. The final short
// batch is kept; batch size only bounds memory here, gradients are
// averaged per sequence.
func Batches(order []int, batchSize int) [][]int {
	if batchSize < 1 {
		batchSize = 1
	}
	batches := make([][]int, 0, (len(order)+batchSize-1)/batchSize)
	for start := 0; start < len(order); start += batchSize {
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		batches = append(batches, order[start:end])
	}
	return batches
}
