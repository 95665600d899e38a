package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements a GPT-style transformer language model: token and
// position embeddings, a stack of pre-norm blocks (multi-head causal
// self-attention plus a feed-forward sublayer), a final norm and a linear
// projection to vocabulary logits.
//
// The normalization and feed-forward sublayers are interfaces so the
// training-time algorithm plugins can swap variants in before the model is
// built: LayerNorm or RMSNorm, GELU or SwiGLU, full or reduced precision.
// The default configuration reproduces the classic GPT-2 style block.
//
// Implementation level is deliberately naive-but-correct: single-process,
// float64, O(n²) attention. The matmul kernel in tensor.go parallelizes
// across rows; nothing else is optimized.
//
// RECOMMENDED READING:
// - "Attention Is All You Need", Vaswani et al. (2017)
//   https://arxiv.org/abs/1706.03762
// - "Language Models are Unsupervised Multitask Learners" (GPT-2)
//
// ===========================================================================

// Norm kinds accepted by Config.Norm.
const (
	NormLayerNorm = "layernorm"
	NormRMSNorm   = "rmsnorm"
)

// Feed-forward kinds accepted by Config.FFN.
const (
	FFNGELU   = "gelu"
	FFNSwiGLU = "swiglu"
)

// Config holds hyperparameters for the transformer model.
type Config struct {
	VocabSize int `yaml:"vocab_size" json:"vocab_size"` // 0 means "take it from the tokenizer"
	SeqLen    int `yaml:"seq_len" json:"seq_len"`       // Maximum sequence length (context window)
	EmbedDim  int `yaml:"embed_dim" json:"embed_dim"`   // Embedding dimension (d_model)
	NumHeads  int `yaml:"num_heads" json:"num_heads"`
	NumLayers int `yaml:"num_layers" json:"num_layers"`
	FFHidden  int `yaml:"ff_hidden" json:"ff_hidden"` // Feed-forward hidden dim (typically 4 * EmbedDim)

	// Sublayer variants, normally left at their defaults and flipped by
	// training algorithms (see algorithm.go).
	Norm          string `yaml:"norm" json:"norm"`                     // "layernorm" (default) or "rmsnorm"
	NormPrecision string `yaml:"norm_precision" json:"norm_precision"` // "" (full) or "float32"
	FFN           string `yaml:"ffn" json:"ffn"`                       // "gelu" (default) or "swiglu"
}

// DefaultConfig returns a small transformer configuration for testing.
func DefaultConfig() Config {
	return Config{
		VocabSize: 1000,
		SeqLen:    128,
		EmbedDim:  256,
		NumHeads:  4,
		NumLayers: 4,
		FFHidden:  1024,
	}
}

// newNorm builds the configured normalization sublayer.
func newNorm(cfg Config) (Norm, error) {
	var n Norm
	switch cfg.Norm {
	case "", NormLayerNorm:
		n = NewLayerNorm(cfg.EmbedDim)
	case NormRMSNorm:
		n = NewRMSNorm(cfg.EmbedDim)
	default:
		return nil, configErrorf("model.norm", "not sure how to build norm: %q", cfg.Norm)
	}

	switch cfg.NormPrecision {
	case "", "float64":
	case "float32":
		n = NewLowPrecisionNorm(n)
	default:
		return nil, configErrorf("model.norm_precision", "unsupported norm precision: %q", cfg.NormPrecision)
	}

	return n, nil
}

// newFeedForward builds the configured feed-forward sublayer.
func newFeedForward(cfg Config) (FeedForwardLayer, error) {
	switch cfg.FFN {
	case "", FFNGELU:
		return NewFeedForward(cfg.EmbedDim, cfg.FFHidden), nil
	case FFNSwiGLU:
		// Two input projections instead of one; shrink the hidden dim to
		// keep the parameter count comparable.
		hidden := cfg.FFHidden * 2 / 3
		if hidden < 1 {
			hidden = cfg.FFHidden
		}
		return NewSwiGLUFeedForward(cfg.EmbedDim, hidden), nil
	default:
		return nil, configErrorf("model.ffn", "not sure how to build feed-forward: %q", cfg.FFN)
	}
}

// Attention implements multi-head causal self-attention.
//
// Each position attends to all earlier positions:
//  1. Project input to Query, Key, Value
//  2. Per head: softmax(Q·K^T / √d_k) with a causal mask
//  3. Weight values by attention, concatenate heads, project out
type Attention struct {
	embedDim int
	numHeads int
	headDim  int

	// Linear projections
	wq, wk, wv, wo *Tensor
}

// NewAttention creates a new attention layer.
func NewAttention(embedDim, numHeads int) *Attention {
	if embedDim%numHeads != 0 {
		panic(fmt.Sprintf("transformer: embedDim (%d) must be divisible by numHeads (%d)", embedDim, numHeads))
	}

	// Xavier/Glorot initialization scaled for transformers
	scale := math.Sqrt(2.0 / float64(embedDim))

	wq := NewTensorRand(embedDim, embedDim)
	wk := NewTensorRand(embedDim, embedDim)
	wv := NewTensorRand(embedDim, embedDim)
	wo := NewTensorRand(embedDim, embedDim)

	for i := range wq.data {
		wq.data[i] *= scale
		wk.data[i] *= scale
		wv.data[i] *= scale
		wo.data[i] *= scale
	}

	return &Attention{
		embedDim: embedDim,
		numHeads: numHeads,
		headDim:  embedDim / numHeads,
		wq:       wq,
		wk:       wk,
		wv:       wv,
		wo:       wo,
	}
}

// Forward computes attention output for input x.
// x shape: (seqLen, embedDim), returns (seqLen, embedDim).
func (a *Attention) Forward(x *Tensor) *Tensor {
	out, _ := a.ForwardWithCache(x)
	return out
}

// Params returns the projection matrices.
func (a *Attention) Params() []*Tensor {
	return []*Tensor{a.wq, a.wk, a.wv, a.wo}
}

// ffnCache is an opaque per-layer activation cache. Each feed-forward
// implementation defines its own concrete type and asserts it back in
// Backward.
type ffnCache any

// FeedForwardLayer is a position-wise feed-forward sublayer.
type FeedForwardLayer interface {
	Forward(x *Tensor) *Tensor
	ForwardWithCache(x *Tensor) (*Tensor, ffnCache)
	Backward(gradOut *Tensor, cache ffnCache) *Tensor
	Params() []*Tensor
}

// FeedForward implements the classic two-layer MLP with GELU:
//
//	FFN(x) = GELU(x @ W1 + b1) @ W2 + b2
//
// The hidden dimension is typically 4x the embedding dimension. This is
// where most of the model's parameters reside.
type FeedForward struct {
	w1, b1 *Tensor
	w2, b2 *Tensor
}

// geluCache stores activations for the backward pass.
type geluCache struct {
	input         *Tensor
	preActivation *Tensor // Before GELU (needed for the GELU gradient)
	hidden        *Tensor // After GELU
}

// NewFeedForward creates a feed-forward layer.
func NewFeedForward(embedDim, hiddenDim int) *FeedForward {
	return &FeedForward{
		w1: NewTensorRand(embedDim, hiddenDim),
		b1: NewTensor(hiddenDim),
		w2: NewTensorRand(hiddenDim, embedDim),
		b2: NewTensor(embedDim),
	}
}

// Forward applies the feed-forward network.
// x shape: (seqLen, embedDim)
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.ForwardWithCache(x)
	return out
}

// ForwardWithCache applies the network and keeps activations for Backward.
func (ff *FeedForward) ForwardWithCache(x *Tensor) (*Tensor, ffnCache) {
	cache := &geluCache{input: x.Clone()}

	pre := addBias(MatMul(x, ff.w1), ff.b1)
	cache.preActivation = pre.Clone()

	hidden := GELU(pre)
	cache.hidden = hidden.Clone()

	out := addBias(MatMul(hidden, ff.w2), ff.b2)
	return out, cache
}

// Backward propagates gradients through the MLP.
func (ff *FeedForward) Backward(gradOut *Tensor, c ffnCache) *Tensor {
	cache := c.(*geluCache)

	// Second linear: out = hidden @ W2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.w2, gradOut)
	ff.w2.AccumulateGrad(gradW2)
	accumulateBiasGrad(ff.b2, gradOut)

	// Activation
	gradPre := GELUBackward(cache.preActivation, gradHidden)

	// First linear: pre = x @ W1 + b1
	gradInput, gradW1 := MatMulBackward(cache.input, ff.w1, gradPre)
	ff.w1.AccumulateGrad(gradW1)
	accumulateBiasGrad(ff.b1, gradPre)

	return gradInput
}

// Params returns the trainable parameters of the layer.
func (ff *FeedForward) Params() []*Tensor {
	return []*Tensor{ff.w1, ff.b1, ff.w2, ff.b2}
}

// TransformerBlock combines attention, normalization and feed-forward
// sublayers in the pre-norm arrangement:
//
//	x = x + Attention(Norm(x))
//	x = x + FeedForward(Norm(x))
//
// The residual connections are what make deep stacks trainable.
type TransformerBlock struct {
	attn  *Attention
	norm1 Norm
	ff    FeedForwardLayer
	norm2 Norm
}

// NewTransformerBlock creates a transformer block.
func NewTransformerBlock(config Config) (*TransformerBlock, error) {
	norm1, err := newNorm(config)
	if err != nil {
		return nil, err
	}
	norm2, err := newNorm(config)
	if err != nil {
		return nil, err
	}
	ff, err := newFeedForward(config)
	if err != nil {
		return nil, err
	}

	return &TransformerBlock{
		attn:  NewAttention(config.EmbedDim, config.NumHeads),
		norm1: norm1,
		ff:    ff,
		norm2: norm2,
	}, nil
}

// Forward applies the transformer block.
// x shape: (seqLen, embedDim)
func (tb *TransformerBlock) Forward(x *Tensor) *Tensor {
	x = Add(x, tb.attn.Forward(tb.norm1.Forward(x)))
	x = Add(x, tb.ff.Forward(tb.norm2.Forward(x)))
	return x
}

// Params returns the block's parameters in a stable order.
func (tb *TransformerBlock) Params() []*Tensor {
	params := tb.norm1.Params()
	params = append(params, tb.attn.Params()...)
	params = append(params, tb.norm2.Params()...)
	params = append(params, tb.ff.Params()...)
	return params
}

// GPT implements a GPT-style transformer language model.
//
// Architecture:
//  1. Token + positional embeddings
//  2. Stack of pre-norm transformer blocks
//  3. Final norm
//  4. Linear projection to vocabulary logits
type GPT struct {
	config Config

	// Embeddings
	tokenEmbed *Tensor // (vocabSize, embedDim)
	posEmbed   *Tensor // (seqLen, embedDim)

	blocks []*TransformerBlock

	normFinal Norm
	lmHead    *Tensor // (embedDim, vocabSize)
}

// NewGPT creates a new GPT model from a config. Sublayer kinds the config
// names are resolved here, so an unknown norm or feed-forward kind surfaces
// as a ConfigError rather than a panic deep in the stack.
func NewGPT(config Config) (*GPT, error) {
	if config.EmbedDim%config.NumHeads != 0 {
		return nil, configErrorf("model", "embed_dim %d not divisible by num_heads %d", config.EmbedDim, config.NumHeads)
	}

	tokenEmbed := NewTensorRand(config.VocabSize, config.EmbedDim)
	posEmbed := NewTensorRand(config.SeqLen, config.EmbedDim)

	blocks := make([]*TransformerBlock, config.NumLayers)
	for i := range blocks {
		b, err := NewTransformerBlock(config)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}

	normFinal, err := newNorm(config)
	if err != nil {
		return nil, err
	}

	return &GPT{
		config:     config,
		tokenEmbed: tokenEmbed,
		posEmbed:   posEmbed,
		blocks:     blocks,
		normFinal:  normFinal,
		lmHead:     NewTensorRand(config.EmbedDim, config.VocabSize),
	}, nil
}

// Config returns the model's hyperparameters.
func (g *GPT) Config() Config {
	return g.config
}

// Parameters returns all trainable parameters in a stable order. The
// checkpoint format serializes tensors in exactly this order.
func (g *GPT) Parameters() []*Tensor {
	params := []*Tensor{g.tokenEmbed, g.posEmbed}
	for _, block := range g.blocks {
		params = append(params, block.Params()...)
	}
	params = append(params, g.normFinal.Params()...)
	params = append(params, g.lmHead)
	return params
}

// NumParameters returns the total number of trainable scalars.
func (g *GPT) NumParameters() int {
	total := 0
	for _, p := range g.Parameters() {
		total += p.Size()
	}
	return total
}

// embed builds the (seqLen, embedDim) input from token and position
// embeddings.
func (g *GPT) embed(inputIDs []int) *Tensor {
	seqLen := len(inputIDs)
	if seqLen > g.config.SeqLen {
		panic(fmt.Sprintf("transformer: sequence length %d exceeds maximum %d", seqLen, g.config.SeqLen))
	}

	x := NewTensor(seqLen, g.config.EmbedDim)
	for i, tokenID := range inputIDs {
		if tokenID < 0 || tokenID >= g.config.VocabSize {
			panic(fmt.Sprintf("transformer: token ID %d out of vocabulary range [0,%d)", tokenID, g.config.VocabSize))
		}
		for j := 0; j < g.config.EmbedDim; j++ {
			x.Set(g.tokenEmbed.At(tokenID, j)+g.posEmbed.At(i, j), i, j)
		}
	}
	return x
}

// Forward computes logits for input token IDs.
// Returns: (seqLen, vocabSize) logits.
func (g *GPT) Forward(inputIDs []int) *Tensor {
	x := g.embed(inputIDs)

	for _, block := range g.blocks {
		x = block.Forward(x)
	}

	x = g.normFinal.Forward(x)
	return MatMul(x, g.lmHead)
}

// Generate produces tokens autoregressively with greedy decoding.
func (g *GPT) Generate(prompt []int, maxTokens int) []int {
	return g.GenerateWithSampling(prompt, maxTokens, &SampleConfig{Temperature: 0.0})
}

// GenerateWithSampling produces tokens autoregressively with customizable
// sampling. Returns generated token IDs including the prompt.
func (g *GPT) GenerateWithSampling(prompt []int, maxTokens int, config *SampleConfig) []int {
	tokens := make([]int, len(prompt))
	copy(tokens, prompt)

	for i := 0; i < maxTokens; i++ {
		logits := g.Forward(tokens)

		lastPos := len(tokens) - 1
		lastLogits := make([]float64, g.config.VocabSize)
		copy(lastLogits, logits.data[lastPos*g.config.VocabSize:(lastPos+1)*g.config.VocabSize])

		tokens = append(tokens, sample(lastLogits, config))

		if len(tokens) >= g.config.SeqLen {
			break
		}
	}

	return tokens
}

// ===========================================================================
// HELPERS
// ===========================================================================

// addBias adds a bias vector to each row of a 2D tensor.
// x: (seqLen, features), bias: (features,)
func addBias(x, bias *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("addBias: x must be 2D")
	}
	if len(bias.shape) != 1 {
		panic("addBias: bias must be 1D")
	}
	if x.shape[1] != bias.shape[0] {
		panic(fmt.Sprintf("addBias: dimension mismatch %d vs %d", x.shape[1], bias.shape[0]))
	}

	out := x.Clone()
	features := bias.shape[0]
	for i := 0; i < x.shape[0]; i++ {
		floats.Add(out.data[i*features:(i+1)*features], bias.data)
	}
	return out
}

// argmax returns the index of the maximum value.
func argmax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	return floats.MaxIdx(data)
}

// SampleConfig holds configuration for text generation sampling.
type SampleConfig struct {
	Temperature float64 // 0 = greedy, higher = more random
	TopK        int     // Top-k sampling (0 = disabled)
	TopP        float64 // Top-p (nucleus) sampling (0 = disabled)
}

// NewSampleConfig creates a default sampling configuration.
func NewSampleConfig() *SampleConfig {
	return &SampleConfig{Temperature: 1.0}
}

// sample samples from logits using temperature, top-k, and top-p sampling.
func sample(logits []float64, config *SampleConfig) int {
	if config.Temperature == 0.0 {
		return argmax(logits)
	}

	scaled := make([]float64, len(logits))
	for i, logit := range logits {
		scaled[i] = logit / config.Temperature
	}

	probs := softmaxSlice(scaled)

	if config.TopK > 0 {
		probs = applyTopK(probs, config.TopK)
	}
	if config.TopP > 0.0 && config.TopP < 1.0 {
		probs = applyTopP(probs, config.TopP)
	}

	return sampleFromDistribution(probs)
}

// softmaxSlice applies softmax to a slice of logits.
func softmaxSlice(logits []float64) []float64 {
	maxLogit := floats.Max(logits)

	expSum := 0.0
	probs := make([]float64, len(logits))
	for i, logit := range logits {
		probs[i] = math.Exp(logit - maxLogit)
		expSum += probs[i]
	}

	floats.Scale(1.0/expSum, probs)
	return probs
}

// indexedProb pairs a token index with its probability for sorting.
type indexedProb struct {
	index int
	prob  float64
}

func sortedByProb(probs []float64) []indexedProb {
	indexed := make([]indexedProb, len(probs))
	for i, p := range probs {
		indexed[i] = indexedProb{i, p}
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].prob > indexed[j].prob
	})
	return indexed
}

// applyTopK keeps only the k most likely tokens and renormalizes.
func applyTopK(probs []float64, k int) []float64 {
	if k <= 0 || k >= len(probs) {
		return probs
	}

	indexed := sortedByProb(probs)

	filtered := make([]float64, len(probs))
	totalProb := 0.0
	for i := 0; i < k; i++ {
		filtered[indexed[i].index] = indexed[i].prob
		totalProb += indexed[i].prob
	}

	if totalProb > 0 {
		floats.Scale(1.0/totalProb, filtered)
	}
	return filtered
}

// applyTopP keeps the smallest set of tokens with cumulative probability
// >= p (nucleus sampling) and renormalizes.
func applyTopP(probs []float64, p float64) []float64 {
	if p <= 0.0 || p >= 1.0 {
		return probs
	}

	indexed := sortedByProb(probs)

	filtered := make([]float64, len(probs))
	cumProb := 0.0
	for _, item := range indexed {
		if cumProb >= p {
			break
		}
		filtered[item.index] = item.prob
		cumProb += item.prob
	}

	if cumProb > 0 {
		floats.Scale(1.0/cumProb, filtered)
	}
	return filtered
}

// sampleFromDistribution samples an index from a probability distribution.
func sampleFromDistribution(probs []float64) int {
	r := tensorRand.Float64()

	cumProb := 0.0
	for i, prob := range probs {
		cumProb += prob
		if r < cumProb {
			return i
		}
	}

	// Rounding can leave the cumulative sum a hair under 1.
	return len(probs) - 1
}

// ===========================================================================
// Model Serialization
// ===========================================================================
//
// Checkpoint format: a 4-byte little-endian header length, a JSON-encoded
// Config, then every tensor from Parameters() as raw little-endian float64
// in order. The config fully determines the architecture, so Parameters()
// yields the same tensor sequence on save and load.
// ===========================================================================

// Save writes the model to a file.
func (g *GPT) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer f.Close()

	configJSON, err := json.Marshal(g.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	headerLen := uint32(len(configJSON))
	if err := binary.Write(f, binary.LittleEndian, headerLen); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := f.Write(configJSON); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	for i, p := range g.Parameters() {
		if err := binary.Write(f, binary.LittleEndian, p.data); err != nil {
			return fmt.Errorf("failed to write tensor %d: %w", i, err)
		}
	}

	return nil
}

// LoadGPT reads a model from a file.
func LoadGPT(filename string) (*GPT, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	var headerLen uint32
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}

	configJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(f, configJSON); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	model, err := NewGPT(config)
	if err != nil {
		return nil, err
	}

	for i, p := range model.Parameters() {
		if err := binary.Read(f, binary.LittleEndian, p.data); err != nil {
			return nil, fmt.Errorf("failed to read tensor %d: %w", i, err)
		}
	}

	return model, nil
}
