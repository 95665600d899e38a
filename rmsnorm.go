package main

import "math"

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// RMSNorm (Root Mean Square Layer Normalization) is a simpler and faster
// alternative to LayerNorm that achieves comparable model quality.
//
// LayerNorm:  y = γ * (x - μ) / σ + β, with μ = mean(x), σ = std(x)
// RMSNorm:    y = γ * x / RMS(x),      with RMS(x) = sqrt(mean(x²))
//
// No mean subtraction and no bias term. Residual connections already give a
// mean-centering effect, so scaling alone is sufficient in practice. Used
// by LLaMA, GPT-NeoX and T5.
//
// PAPER: "Root Mean Square Layer Normalization"
//        https://arxiv.org/abs/1910.07467
//
// ===========================================================================

// RMSNorm implements root mean square layer normalization.
type RMSNorm struct {
	dim   int
	eps   float64
	gamma *Tensor // Scale parameter (no beta unlike LayerNorm)
}

// NewRMSNorm creates an RMSNorm layer.
func NewRMSNorm(dim int) *RMSNorm {
	gamma := NewTensor(dim)

	// gamma=1: identity transform at initialization
	for i := 0; i < dim; i++ {
		gamma.data[i] = 1.0
	}

	return &RMSNorm{
		dim:   dim,
		eps:   1e-5,
		gamma: gamma,
	}
}

// Forward applies RMSNorm.
// x shape: (seqLen, features)
func (rms *RMSNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("rmsnorm: input must be 2D (seqLen, features)")
	}

	seqLen, features := x.shape[0], x.shape[1]
	out := NewTensor(seqLen, features)

	for i := 0; i < seqLen; i++ {
		sumSquares := 0.0
		for j := 0; j < features; j++ {
			val := x.At(i, j)
			sumSquares += val * val
		}
		rmsValue := math.Sqrt(sumSquares/float64(features) + rms.eps)

		for j := 0; j < features; j++ {
			out.Set(x.At(i, j)/rmsValue*rms.gamma.data[j], i, j)
		}
	}

	return out
}

// Backward propagates gradients through the normalization.
func (rms *RMSNorm) Backward(x, gradY *Tensor) *Tensor {
	gradX, gradGamma := RMSNormBackward(x, rms.gamma, gradY, rms.eps)
	rms.gamma.AccumulateGrad(gradGamma)
	return gradX
}

// Params returns gamma.
func (rms *RMSNorm) Params() []*Tensor {
	return []*Tensor{rms.gamma}
}
