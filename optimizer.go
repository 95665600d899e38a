package main

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Optimizers update parameters from their accumulated gradients. Two are
// provided:
//
// SGD: p -= lr * grad. Simple, but a single learning rate for all
// parameters converges slowly on transformers.
//
// AdamW: maintains per-parameter first and second moment estimates and
// normalizes each update by them, with weight decay applied directly to the
// weights (decoupled) instead of through the gradient. The de facto
// standard for transformer training.
//
// PAPER: "Decoupled Weight Decay Regularization"
//        https://arxiv.org/abs/1711.05101
//
// ===========================================================================

// Optimizer updates parameters from their gradients.
type Optimizer interface {
	// Step applies one update to every parameter at the given learning
	// rate. The rate comes from the scheduler each step.
	Step(params []*Tensor, lr float64)

	// ZeroGrad clears the gradient buffers.
	ZeroGrad(params []*Tensor)
}

// SGDOptimizer implements plain stochastic gradient descent.
type SGDOptimizer struct{}

// NewSGDOptimizer creates an SGD optimizer.
func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{}
}

// Step performs a gradient descent step: param -= lr * grad.
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	for _, p := range params {
		floats.AddScaled(p.data, -lr, p.grad)
	}
}

// ZeroGrad clears gradients for the next iteration.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// AdamW implements the Adam optimizer with decoupled weight decay.
type AdamW struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	step int
	m    map[*Tensor][]float64 // First moment (mean of gradients)
	v    map[*Tensor][]float64 // Second moment (mean of squared gradients)
}

// NewAdamW creates an AdamW optimizer with the given hyperparameters.
func NewAdamW(beta1, beta2, epsilon, weightDecay float64) *AdamW {
	return &AdamW{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           make(map[*Tensor][]float64),
		v:           make(map[*Tensor][]float64),
	}
}

// Step performs one AdamW update.
func (opt *AdamW) Step(params []*Tensor, lr float64) {
	opt.step++

	// Bias correction: early moment estimates are biased toward zero.
	bc1 := 1.0 - math.Pow(opt.beta1, float64(opt.step))
	bc2 := 1.0 - math.Pow(opt.beta2, float64(opt.step))

	for _, p := range params {
		m, ok := opt.m[p]
		if !ok {
			m = make([]float64, len(p.data))
			opt.m[p] = m
		}
		v, ok := opt.v[p]
		if !ok {
			v = make([]float64, len(p.data))
			opt.v[p] = v
		}

		for j := range p.data {
			g := p.grad[j]

			m[j] = opt.beta1*m[j] + (1.0-opt.beta1)*g
			v[j] = opt.beta2*v[j] + (1.0-opt.beta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2

			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)

			// Decoupled weight decay, applied to the weight itself.
			if opt.weightDecay > 0 {
				p.data[j] -= lr * opt.weightDecay * p.data[j]
			}
		}
	}
}

// ZeroGrad clears gradients for the next iteration.
func (opt *AdamW) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// BuildOptimizer constructs the optimizer named in the config.
func BuildOptimizer(cfg OptimizerConfig) (Optimizer, error) {
	switch cfg.Name {
	case "", "adamw":
		beta1, beta2 := cfg.Beta1, cfg.Beta2
		if beta1 == 0 {
			beta1 = 0.9
		}
		if beta2 == 0 {
			beta2 = 0.999
		}
		eps := cfg.Eps
		if eps == 0 {
			eps = 1e-8
		}
		return NewAdamW(beta1, beta2, eps, cfg.WeightDecay), nil
	case "sgd":
		return NewSGDOptimizer(), nil
	default:
		return nil, configErrorf("optimizer.name", "not sure how to build optimizer: %q", cfg.Name)
	}
}

// CrossEntropyLoss computes mean cross-entropy between logits and target
// token IDs, numerically stabilized with the max-logit trick.
func CrossEntropyLoss(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("CrossEntropyLoss: requires 2D logits")
	}

	batchSize := logits.shape[0]
	vocabSize := logits.shape[1]
	if len(targets) != batchSize {
		panic("CrossEntropyLoss: targets length mismatch")
	}

	totalLoss := 0.0
	for b := 0; b < batchSize; b++ {
		row := logits.data[b*vocabSize : (b+1)*vocabSize]
		maxLogit := floats.Max(row)

		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(v - maxLogit)
		}

		// -log softmax(logits)[target]
		totalLoss += math.Log(sumExp) - (row[targets[b]] - maxLogit)
	}

	return totalLoss / float64(batchSize)
}

// GradNorm returns the global L2 norm over all parameter gradients.
func GradNorm(params []*Tensor) float64 {
	sumSquares := 0.0
	for _, p := range params {
		sumSquares += floats.Dot(p.grad, p.grad)
	}
	return math.Sqrt(sumSquares)
}

// ClipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm. Returns the norm before clipping.
func ClipGradients(params []*Tensor, maxNorm float64) float64 {
	norm := GradNorm(params)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			floats.Scale(scale, p.grad)
		}
	}
	return norm
}
