package main

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

// tinyConfig returns a model small enough for fast tests.
func tinyConfig() Config {
	return Config{
		VocabSize: 50,
		SeqLen:    16,
		EmbedDim:  32,
		NumHeads:  2,
		NumLayers: 2,
		FFHidden:  64,
	}
}

// TestForwardShape checks the logits shape for a batch of token IDs.
func TestForwardShape(t *testing.T) {
	SeedRNG(1)
	model, err := NewGPT(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}

	logits := model.Forward([]int{1, 2, 3, 4, 5})
	shape := logits.Shape()
	if shape[0] != 5 || shape[1] != 50 {
		t.Errorf("logits shape = %v, want [5 50]", shape)
	}
}

// TestSublayerVariants checks every norm/FFN combination builds and runs.
func TestSublayerVariants(t *testing.T) {
	variants := []struct {
		norm, precision, ffn string
	}{
		{"", "", ""},
		{NormRMSNorm, "", FFNGELU},
		{NormLayerNorm, "float32", FFNSwiGLU},
		{NormRMSNorm, "float32", FFNSwiGLU},
	}

	for _, v := range variants {
		SeedRNG(2)
		cfg := tinyConfig()
		cfg.Norm, cfg.NormPrecision, cfg.FFN = v.norm, v.precision, v.ffn

		model, err := NewGPT(cfg)
		if err != nil {
			t.Fatalf("%+v: %v", v, err)
		}
		logits := model.Forward([]int{1, 2, 3})
		for _, val := range logits.data {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				t.Fatalf("%+v: non-finite logits", v)
			}
		}
	}
}

// TestNewGPTRejectsBadConfig checks sublayer kind validation.
func TestNewGPTRejectsBadConfig(t *testing.T) {
	var cfgErr *ConfigError

	cfg := tinyConfig()
	cfg.Norm = "batchnorm"
	if _, err := NewGPT(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("bad norm: expected ConfigError, got %v", err)
	}

	cfg = tinyConfig()
	cfg.FFN = "moe"
	if _, err := NewGPT(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("bad ffn: expected ConfigError, got %v", err)
	}

	cfg = tinyConfig()
	cfg.NumHeads = 3 // 32 % 3 != 0
	if _, err := NewGPT(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("bad heads: expected ConfigError, got %v", err)
	}
}

// TestForwardWithCacheMatchesForward checks both forward paths agree.
func TestForwardWithCacheMatchesForward(t *testing.T) {
	SeedRNG(3)
	model, err := NewGPT(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}

	ids := []int{4, 8, 15, 16, 23, 42}
	plain := model.Forward(ids)
	cached, _ := model.ForwardWithCache(ids)

	for i := range plain.data {
		if math.Abs(plain.data[i]-cached.data[i]) > 1e-9 {
			t.Fatalf("forward paths diverge at %d: %g vs %g", i, plain.data[i], cached.data[i])
		}
	}
}

// TestBackwardNumericSpotCheck verifies a few model gradients against
// finite differences of the real loss.
func TestBackwardNumericSpotCheck(t *testing.T) {
	SeedRNG(4)
	cfg := tinyConfig()
	cfg.NumLayers = 1
	model, err := NewGPT(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ids := []int{1, 2, 3, 4}
	targets := []int{2, 3, 4, 5}

	logits, cache := model.ForwardWithCache(ids)
	model.ZeroGradients()
	model.Backward(cache, CrossEntropyBackward(logits, targets))

	loss := func() float64 {
		return CrossEntropyLoss(model.Forward(ids), targets)
	}

	// Spot-check a handful of entries in the LM head and token embedding.
	const eps = 1e-6
	checks := []*Tensor{model.lmHead, model.tokenEmbed}
	for _, p := range checks {
		for _, idx := range []int{0, 7, len(p.data) / 2} {
			orig := p.data[idx]
			p.data[idx] = orig + eps
			lPlus := loss()
			p.data[idx] = orig - eps
			lMinus := loss()
			p.data[idx] = orig

			numeric := (lPlus - lMinus) / (2 * eps)
			if math.Abs(p.grad[idx]-numeric) > 1e-4 {
				t.Errorf("grad[%d] = %g, numeric %g", idx, p.grad[idx], numeric)
			}
		}
	}
}

// TestGreedyGenerateDeterministic checks temperature 0 always picks the
// argmax.
func TestGreedyGenerateDeterministic(t *testing.T) {
	SeedRNG(5)
	model, err := NewGPT(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}

	a := model.Generate([]int{1, 2}, 5)
	b := model.Generate([]int{1, 2}, 5)

	if len(a) != 7 {
		t.Fatalf("got %d tokens, want 7", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("greedy decoding not deterministic at %d", i)
		}
	}
}

// TestGenerateRespectsSeqLen checks generation stops at the context limit.
func TestGenerateRespectsSeqLen(t *testing.T) {
	SeedRNG(6)
	model, err := NewGPT(tinyConfig())
	if err != nil {
		t.Fatal(err)
	}

	out := model.Generate([]int{1, 2, 3}, 1000)
	if len(out) > 16 {
		t.Errorf("generated %d tokens past the context window", len(out))
	}
}

// TestSampleTopK checks top-k filtering keeps only the k best tokens.
func TestSampleTopK(t *testing.T) {
	probs := []float64{0.4, 0.3, 0.2, 0.1}
	filtered := applyTopK(probs, 2)

	if filtered[2] != 0 || filtered[3] != 0 {
		t.Errorf("top-k kept excluded tokens: %v", filtered)
	}
	sum := filtered[0] + filtered[1]
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("top-k not renormalized: sum %f", sum)
	}
}

// TestSaveLoadRoundTrip checks a reloaded model produces identical logits.
func TestSaveLoadRoundTrip(t *testing.T) {
	SeedRNG(7)
	cfg := tinyConfig()
	cfg.FFN = FFNSwiGLU
	cfg.Norm = NormRMSNorm
	model, err := NewGPT(cfg)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := model.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadGPT(path)
	if err != nil {
		t.Fatal(err)
	}

	ids := []int{3, 1, 4, 1, 5}
	want := model.Forward(ids)
	got := loaded.Forward(ids)

	for i := range want.data {
		if want.data[i] != got.data[i] {
			t.Fatalf("logits differ after reload at %d", i)
		}
	}
}
