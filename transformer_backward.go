package main

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the training-time passes of the model: a forward pass
// that caches the activations the chain rule needs, and a backward pass that
// walks the network in reverse accumulating parameter gradients.
//
// Layout of one pre-norm block, forward:
//
//   n1  = Norm1(x)
//   x1  = x + Attention(n1)
//   n2  = Norm2(x1)
//   out = x1 + FeedForward(n2)
//
// Backward retraces exactly that graph in reverse. Residual connections
// split the gradient: the output gradient flows both straight through
// (identity path) and through the sublayer.
//
// Memory/compute trade-off: normalization statistics and attention Q/K/V
// per-head slices are recomputed in backward from the cached inputs rather
// than stored. Only activations that are expensive to recompute (matmul
// outputs, softmaxed attention weights) are cached.
//
// ===========================================================================

// attnCache stores the activations attention's backward pass needs.
type attnCache struct {
	input   *Tensor   // Normed block input fed to the projections
	q, k, v *Tensor   // Projected (seqLen, embedDim)
	weights []*Tensor // Softmaxed attention per head, (seqLen, seqLen)
	context *Tensor   // Concatenated head outputs before Wo
}

// headSlice copies head h's columns out of a (seqLen, embedDim) tensor,
// returning (seqLen, headDim).
func headSlice(t *Tensor, h, headDim int) *Tensor {
	seqLen := t.shape[0]
	out := NewTensor(seqLen, headDim)
	offset := h * headDim
	for i := 0; i < seqLen; i++ {
		copy(out.data[i*headDim:(i+1)*headDim], t.data[i*t.shape[1]+offset:i*t.shape[1]+offset+headDim])
	}
	return out
}

// addHeadSlice adds a (seqLen, headDim) tensor into head h's columns of a
// (seqLen, embedDim) tensor.
func addHeadSlice(dst, src *Tensor, h, headDim int) {
	seqLen := dst.shape[0]
	offset := h * headDim
	for i := 0; i < seqLen; i++ {
		floats.Add(dst.data[i*dst.shape[1]+offset:i*dst.shape[1]+offset+headDim], src.data[i*headDim:(i+1)*headDim])
	}
}

// ForwardWithCache computes attention and keeps activations for Backward.
func (a *Attention) ForwardWithCache(x *Tensor) (*Tensor, *attnCache) {
	seqLen := x.shape[0]
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	cache := &attnCache{
		input:   x.Clone(),
		q:       MatMul(x, a.wq),
		k:       MatMul(x, a.wk),
		v:       MatMul(x, a.wv),
		weights: make([]*Tensor, a.numHeads),
	}

	context := NewTensor(seqLen, a.embedDim)
	for h := 0; h < a.numHeads; h++ {
		qh := headSlice(cache.q, h, a.headDim)
		kh := headSlice(cache.k, h, a.headDim)
		vh := headSlice(cache.v, h, a.headDim)

		// scores = Q @ K^T / sqrt(d_k), causally masked
		scores := MatMul(qh, Transpose(kh))
		for i := 0; i < seqLen; i++ {
			for j := 0; j < seqLen; j++ {
				if j > i {
					scores.Set(math.Inf(-1), i, j)
				} else {
					scores.Set(scores.At(i, j)*scale, i, j)
				}
			}
		}

		weights := Softmax(scores)
		cache.weights[h] = weights

		addHeadSlice(context, MatMul(weights, vh), h, a.headDim)
	}
	cache.context = context

	return MatMul(context, a.wo), cache
}

// Backward propagates gradients through attention, accumulating parameter
// gradients and returning the gradient with respect to the input.
func (a *Attention) Backward(gradOut *Tensor, cache *attnCache) *Tensor {
	seqLen := gradOut.shape[0]
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	// Output projection: out = context @ Wo
	gradContext, gradWo := MatMulBackward(cache.context, a.wo, gradOut)
	a.wo.AccumulateGrad(gradWo)

	gradQ := NewTensor(seqLen, a.embedDim)
	gradK := NewTensor(seqLen, a.embedDim)
	gradV := NewTensor(seqLen, a.embedDim)

	for h := 0; h < a.numHeads; h++ {
		kh := headSlice(cache.k, h, a.headDim)
		qh := headSlice(cache.q, h, a.headDim)
		vh := headSlice(cache.v, h, a.headDim)
		weights := cache.weights[h]
		gradCtx := headSlice(gradContext, h, a.headDim)

		// context_h = weights @ V_h
		gradWeights := MatMul(gradCtx, Transpose(vh))
		gradVh := MatMul(Transpose(weights), gradCtx)

		// weights = softmax(scores); masked positions have zero weight so
		// their score gradient vanishes on its own.
		gradScores := SoftmaxBackward(weights, gradWeights)
		for i := range gradScores.data {
			gradScores.data[i] *= scale
		}

		// scores = Q_h @ K_h^T
		gradQh := MatMul(gradScores, kh)
		gradKh := MatMul(Transpose(gradScores), qh)

		addHeadSlice(gradQ, gradQh, h, a.headDim)
		addHeadSlice(gradK, gradKh, h, a.headDim)
		addHeadSlice(gradV, gradVh, h, a.headDim)
	}

	// Input projections
	gradXq, gradWq := MatMulBackward(cache.input, a.wq, gradQ)
	gradXk, gradWk := MatMulBackward(cache.input, a.wk, gradK)
	gradXv, gradWv := MatMulBackward(cache.input, a.wv, gradV)

	a.wq.AccumulateGrad(gradWq)
	a.wk.AccumulateGrad(gradWk)
	a.wv.AccumulateGrad(gradWv)

	gradX := Add(Add(gradXq, gradXk), gradXv)
	return gradX
}

// blockCache stores per-block activations for the backward pass.
type blockCache struct {
	input     *Tensor // x entering the block (norm1's input)
	attn      *attnCache
	afterAttn *Tensor // x after the attention residual (norm2's input)
	ffn       ffnCache
}

// ForwardCache holds everything GPT.Backward needs from a forward pass.
type ForwardCache struct {
	inputIDs    []int
	blocks      []*blockCache
	final       *Tensor // Input to the final norm
	normedFinal *Tensor // Output of the final norm, input to the LM head
}

// ForwardWithCache runs the forward pass recording activations.
// Returns (seqLen, vocabSize) logits and the cache for Backward.
func (g *GPT) ForwardWithCache(inputIDs []int) (*Tensor, *ForwardCache) {
	cache := &ForwardCache{
		inputIDs: append([]int(nil), inputIDs...),
		blocks:   make([]*blockCache, len(g.blocks)),
	}

	x := g.embed(inputIDs)

	for i, block := range g.blocks {
		bc := &blockCache{input: x.Clone()}

		attnOut, ac := block.attn.ForwardWithCache(block.norm1.Forward(x))
		bc.attn = ac
		x = Add(x, attnOut)
		bc.afterAttn = x.Clone()

		ffOut, fc := block.ff.ForwardWithCache(block.norm2.Forward(x))
		bc.ffn = fc
		x = Add(x, ffOut)

		cache.blocks[i] = bc
	}

	cache.final = x.Clone()
	normed := g.normFinal.Forward(x)
	cache.normedFinal = normed

	return MatMul(normed, g.lmHead), cache
}

// Backward propagates the logit gradient through the whole model,
// accumulating into every parameter's gradient buffer.
func (g *GPT) Backward(cache *ForwardCache, gradLogits *Tensor) {
	// LM head: logits = normedFinal @ lmHead
	gradNormed, gradLMHead := MatMulBackward(cache.normedFinal, g.lmHead, gradLogits)
	g.lmHead.AccumulateGrad(gradLMHead)

	gradX := g.normFinal.Backward(cache.final, gradNormed)

	for i := len(g.blocks) - 1; i >= 0; i-- {
		block := g.blocks[i]
		bc := cache.blocks[i]

		// Feed-forward residual: out = x1 + FF(Norm2(x1))
		gradN2 := block.ff.Backward(gradX, bc.ffn)
		gradX = Add(gradX, block.norm2.Backward(bc.afterAttn, gradN2))

		// Attention residual: x1 = x + Attn(Norm1(x))
		gradN1 := block.attn.Backward(gradX, bc.attn)
		gradX = Add(gradX, block.norm1.Backward(bc.input, gradN1))
	}

	// Embeddings: x[i] = tokenEmbed[id_i] + posEmbed[i]
	embedDim := g.config.EmbedDim
	for i, tokenID := range cache.inputIDs {
		row := gradX.data[i*embedDim : (i+1)*embedDim]
		floats.Add(g.tokenEmbed.grad[tokenID*embedDim:(tokenID+1)*embedDim], row)
		floats.Add(g.posEmbed.grad[i*embedDim:(i+1)*embedDim], row)
	}
}

// ZeroGradients clears every parameter's gradient buffer.
func (g *GPT) ZeroGradients() {
	for _, p := range g.Parameters() {
		p.ZeroGrad()
	}
}

// checkFinite panics if any parameter or gradient went NaN/Inf. Useful when
// debugging exploding losses; not called on the hot path.
func (g *GPT) checkFinite() {
	for idx, p := range g.Parameters() {
		for _, v := range p.data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				panic(fmt.Sprintf("transformer: non-finite value in parameter %d", idx))
			}
		}
	}
}
