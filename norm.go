package main

import "math"

// Norm is a normalization sublayer. Implementations own their parameters
// and accumulate parameter gradients during Backward, returning only the
// input gradient.
type Norm interface {
	Forward(x *Tensor) *Tensor

	// Backward takes the original input x and the output gradient and
	// returns the input gradient. Parameter gradients accumulate in place.
	Backward(x, gradY *Tensor) *Tensor

	// Params returns the trainable parameters of the layer.
	Params() []*Tensor
}

// LayerNorm implements layer normalization.
//
// PAPER: "Layer Normalization" by Ba, Kiros, Hinton (2016)
// https://arxiv.org/abs/1607.06450
//
// Normalizes activations across features for each position independently:
// y = γ * (x - μ) / σ + β, with learned γ and β.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor // Scale parameter
	beta  *Tensor // Shift parameter
}

// NewLayerNorm creates a layer normalization layer.
func NewLayerNorm(dim int) *LayerNorm {
	gamma := NewTensor(dim)
	beta := NewTensor(dim)

	// gamma=1, beta=0: identity transform at initialization
	for i := 0; i < dim; i++ {
		gamma.data[i] = 1.0
	}

	return &LayerNorm{
		dim:   dim,
		eps:   1e-5,
		gamma: gamma,
		beta:  beta,
	}
}

// Forward applies layer normalization.
// x shape: (seqLen, features)
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("norm: LayerNorm input must be 2D")
	}

	seqLen, features := x.shape[0], x.shape[1]
	out := NewTensor(seqLen, features)

	for i := 0; i < seqLen; i++ {
		mean := 0.0
		for j := 0; j < features; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(features)

		variance := 0.0
		for j := 0; j < features; j++ {
			diff := x.At(i, j) - mean
			variance += diff * diff
		}
		variance /= float64(features)

		std := math.Sqrt(variance + ln.eps)
		for j := 0; j < features; j++ {
			normalized := (x.At(i, j) - mean) / std
			out.Set(normalized*ln.gamma.data[j]+ln.beta.data[j], i, j)
		}
	}

	return out
}

// Backward propagates gradients through the normalization.
func (ln *LayerNorm) Backward(x, gradY *Tensor) *Tensor {
	gradX, gradGamma, gradBeta := LayerNormBackward(x, ln.gamma, gradY, ln.eps)
	ln.gamma.AccumulateGrad(gradGamma)
	ln.beta.AccumulateGrad(gradBeta)
	return gradX
}

// Params returns gamma and beta.
func (ln *LayerNorm) Params() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

// LowPrecisionNorm wraps another Norm and rounds its input and output
// through float32 precision. It mimics running the normalization sublayer
// in reduced precision while the rest of the network stays in float64.
// The backward pass is straight-through: rounding is treated as identity.
type LowPrecisionNorm struct {
	inner Norm
}

// NewLowPrecisionNorm wraps a norm layer in float32 rounding.
func NewLowPrecisionNorm(inner Norm) *LowPrecisionNorm {
	return &LowPrecisionNorm{inner: inner}
}

// Forward rounds the input to float32 precision, applies the wrapped norm,
// and rounds the result again.
func (lp *LowPrecisionNorm) Forward(x *Tensor) *Tensor {
	out := lp.inner.Forward(roundFloat32(x))
	return roundFloat32(out)
}

// Backward delegates to the wrapped norm on the rounded input.
func (lp *LowPrecisionNorm) Backward(x, gradY *Tensor) *Tensor {
	return lp.inner.Backward(roundFloat32(x), gradY)
}

// Params returns the wrapped norm's parameters.
func (lp *LowPrecisionNorm) Params() []*Tensor {
	return lp.inner.Params()
}

// roundFloat32 returns a copy of t with every element squeezed through
// float32 and back.
func roundFloat32(t *Tensor) *Tensor {
	out := NewTensor(t.shape...)
	for i, v := range t.data {
		out.data[i] = float64(float32(v))
	}
	return out
}
