package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the backward (gradient) halves of the operations the
// model uses during training. Each forward operation in tensor.go has a
// matching *Backward function here that applies the chain rule:
//
//   Forward:  C = f(A, B)
//   Backward: given ∂L/∂C, produce ∂L/∂A and ∂L/∂B
//
// Example, matrix multiplication:
//   C = A @ B
//   ∂L/∂A = ∂L/∂C @ B^T
//   ∂L/∂B = A^T @ ∂L/∂C
//
// The backward pass costs roughly 2x the forward pass: one matmul forward
// becomes two matmuls backward.
//
// ===========================================================================

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given C = A @ B and gradC = ∂L/∂C:
//   gradA = gradC @ B^T
//   gradB = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// ReLUBackward computes gradient for ReLU activation.
// The gradient passes through where the input was positive, else zero.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i := range x.data {
		if x.data[i] > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}
	return gradX
}

// GELUBackward computes gradient for GELU activation using the analytic
// derivative of the tanh approximation.
func GELUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]

		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)

		tanhDeriv := 1.0 - tanhInner*tanhInner // sech²(inner)
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv

		gradX.data[i] = gradY.data[i] * geluDeriv
	}

	return gradX
}

// SwishBackward computes gradient for Swish (x * sigmoid(x)).
//
//	d/dx [x·σ(x)] = σ(x) + x·σ(x)·(1-σ(x))
func SwishBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i := range x.data {
		v := x.data[i]
		sig := 1.0 / (1.0 + math.Exp(-v))
		gradX.data[i] = gradY.data[i] * (sig + v*sig*(1.0-sig))
	}
	return gradX
}

// SoftmaxBackward computes gradient for softmax.
//
// With Y = softmax(X):
//   gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	batch, features := y.shape[0], y.shape[1]
	gradX := NewTensor(y.shape...)

	for b := 0; b < batch; b++ {
		yRow := y.data[b*features : (b+1)*features]
		gRow := gradY.data[b*features : (b+1)*features]
		outRow := gradX.data[b*features : (b+1)*features]

		dot := floats.Dot(gRow, yRow)
		for f := range yRow {
			outRow[f] = yRow[f] * (gRow[f] - dot)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients for layer normalization
// y = gamma * (x - mean) / std + beta, per row.
//
// Statistics are recomputed from x rather than cached; for the feature
// widths used here that is cheaper than carrying them through the forward
// cache.
func LayerNormBackward(x, gamma, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("LayerNormBackward: requires 2D tensor")
	}

	batch, features := x.shape[0], x.shape[1]
	n := float64(features)

	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(features)
	gradBeta = NewTensor(features)

	for b := 0; b < batch; b++ {
		row := x.data[b*features : (b+1)*features]
		gRow := gradY.data[b*features : (b+1)*features]

		mean := floats.Sum(row) / n

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= n
		std := math.Sqrt(variance + epsilon)

		// Parameter gradients plus the two sums the input gradient needs.
		sumGradY := 0.0
		sumGradYXNorm := 0.0
		for f, v := range row {
			xNorm := (v - mean) / std
			gradGamma.data[f] += gRow[f] * xNorm
			gradBeta.data[f] += gRow[f]

			g := gRow[f] * gamma.data[f]
			sumGradY += g
			sumGradYXNorm += g * xNorm
		}

		for f, v := range row {
			xNorm := (v - mean) / std
			gradXNorm := gRow[f] * gamma.data[f]
			gradX.data[b*features+f] = (n*gradXNorm - sumGradY - xNorm*sumGradYXNorm) / (n * std)
		}
	}

	return gradX, gradGamma, gradBeta
}

// RMSNormBackward computes gradients for RMS normalization
// y = gamma * x / rms(x), rms(x) = sqrt(mean(x²) + eps), per row.
//
// Derivation: with r = rms(x) and s = Σ_j gradY[j]·gamma[j]·x[j],
//   gradX[i] = gradY[i]·gamma[i]/r - x[i]·s / (n·r³)
func RMSNormBackward(x, gamma, gradY *Tensor, epsilon float64) (gradX, gradGamma *Tensor) {
	if len(x.shape) != 2 {
		panic("RMSNormBackward: requires 2D tensor")
	}

	batch, features := x.shape[0], x.shape[1]
	n := float64(features)

	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(features)

	for b := 0; b < batch; b++ {
		row := x.data[b*features : (b+1)*features]
		gRow := gradY.data[b*features : (b+1)*features]

		r := math.Sqrt(floats.Dot(row, row)/n + epsilon)

		s := 0.0
		for f, v := range row {
			gradGamma.data[f] += gRow[f] * v / r
			s += gRow[f] * gamma.data[f] * v
		}

		for f, v := range row {
			gradX.data[b*features+f] = gRow[f]*gamma.data[f]/r - v*s/(n*r*r*r)
		}
	}

	return gradX, gradGamma
}

// CrossEntropyBackward computes gradient for cross-entropy loss over
// next-token logits.
//
// gradLogits = (softmax(logits) - one_hot(targets)) / batch
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("CrossEntropyBackward: requires 2D logits")
	}

	batchSize := logits.shape[0]
	vocabSize := logits.shape[1]

	probs := Softmax(logits)
	gradLogits := NewTensor(batchSize, vocabSize)

	inv := 1.0 / float64(batchSize)
	for b := 0; b < batchSize; b++ {
		row := gradLogits.data[b*vocabSize : (b+1)*vocabSize]
		pRow := probs.data[b*vocabSize : (b+1)*vocabSize]
		for v := range row {
			row[v] = pRow[v] * inv
		}
		row[targets[b]] -= inv
	}

	return gradLogits
}

// AccumulateGrad adds grad's data into t's gradient buffer.
// Used when a tensor contributes to the loss through multiple paths.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}
	floats.Add(t.grad, grad.data)
}

// accumulateBiasGrad adds the column sums of grad (2D, rows × features)
// into the bias gradient buffer (1D, features).
func accumulateBiasGrad(bias *Tensor, grad *Tensor) {
	features := bias.Size()
	for i, g := range grad.data {
		bias.grad[i%features] += g
	}
}
