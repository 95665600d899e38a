package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// SwiGLU is the gated feed-forward variant used by modern LLMs (LLaMA,
// PaLM). Instead of one hidden projection with a pointwise activation, it
// runs TWO parallel projections that interact through gating:
//
//   Standard FFN:  out = GELU(x @ W1 + b1) @ W2 + b2
//   SwiGLU FFN:    gate  = Swish(x @ Wg + bg)
//                  value = x @ Wv + bv
//                  out   = (gate ⊙ value) @ W2 + b2
//
// For a comparable parameter count the hidden dimension is usually set to
// about 2/3 of the standard FFN hidden size, since there are two input
// projections instead of one.
//
// PAPER: "GLU Variants Improve Transformer" https://arxiv.org/abs/2002.05202
//
// ===========================================================================

// SwiGLUFeedForward is a feed-forward layer using SwiGLU gating.
type SwiGLUFeedForward struct {
	wGate  *Tensor // Gate projection: (embedDim, hiddenDim)
	wValue *Tensor // Value projection: (embedDim, hiddenDim)
	w2     *Tensor // Output projection: (hiddenDim, embedDim)
	bGate  *Tensor
	bValue *Tensor
	b2     *Tensor
}

// swigluCache stores the activations Backward needs.
type swigluCache struct {
	input   *Tensor // x
	gatePre *Tensor // x @ Wg + bg, before Swish
	value   *Tensor // x @ Wv + bv
	hidden  *Tensor // Swish(gatePre) ⊙ value
}

// NewSwiGLUFeedForward creates a SwiGLU feed-forward layer.
func NewSwiGLUFeedForward(embedDim, hiddenDim int) *SwiGLUFeedForward {
	return &SwiGLUFeedForward{
		wGate:  NewTensorRand(embedDim, hiddenDim),
		wValue: NewTensorRand(embedDim, hiddenDim),
		w2:     NewTensorRand(hiddenDim, embedDim),
		bGate:  NewTensor(hiddenDim),
		bValue: NewTensor(hiddenDim),
		b2:     NewTensor(embedDim),
	}
}

// Forward applies the SwiGLU transformation.
// x shape: (seqLen, embedDim), returns (seqLen, embedDim).
func (ff *SwiGLUFeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.ForwardWithCache(x)
	return out
}

// ForwardWithCache applies the transformation and keeps the activations
// needed for the backward pass.
func (ff *SwiGLUFeedForward) ForwardWithCache(x *Tensor) (*Tensor, ffnCache) {
	cache := &swigluCache{input: x.Clone()}

	gatePre := addBias(MatMul(x, ff.wGate), ff.bGate)
	cache.gatePre = gatePre.Clone()

	value := addBias(MatMul(x, ff.wValue), ff.bValue)
	cache.value = value.Clone()

	hidden := Mul(Swish(gatePre), value)
	cache.hidden = hidden.Clone()

	out := addBias(MatMul(hidden, ff.w2), ff.b2)
	return out, cache
}

// Backward propagates gradients through the gated feed-forward layer,
// accumulating parameter gradients and returning the input gradient.
func (ff *SwiGLUFeedForward) Backward(gradOut *Tensor, c ffnCache) *Tensor {
	cache := c.(*swigluCache)

	// Output projection: out = hidden @ W2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.w2, gradOut)
	ff.w2.AccumulateGrad(gradW2)
	accumulateBiasGrad(ff.b2, gradOut)

	// Gating: hidden = Swish(gatePre) ⊙ value
	gate := Swish(cache.gatePre)
	gradGate := Mul(gradHidden, cache.value)
	gradValue := Mul(gradHidden, gate)

	// Gate path through Swish
	gradGatePre := SwishBackward(cache.gatePre, gradGate)

	gradInputG, gradWGate := MatMulBackward(cache.input, ff.wGate, gradGatePre)
	ff.wGate.AccumulateGrad(gradWGate)
	accumulateBiasGrad(ff.bGate, gradGatePre)

	gradInputV, gradWValue := MatMulBackward(cache.input, ff.wValue, gradValue)
	ff.wValue.AccumulateGrad(gradWValue)
	accumulateBiasGrad(ff.bValue, gradValue)

	return Add(gradInputG, gradInputV)
}

// Params returns the trainable parameters of the layer.
func (ff *SwiGLUFeedForward) Params() []*Tensor {
	return []*Tensor{ff.wGate, ff.bGate, ff.wValue, ff.bValue, ff.w2, ff.b2}
}
