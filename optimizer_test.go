package main

import (
	"errors"
	"math"
	"testing"
)

// TestSGDStep checks the plain gradient descent update.
func TestSGDStep(t *testing.T) {
	p := NewTensor(3)
	p.data = []float64{1, 2, 3}
	p.grad = []float64{0.5, -0.5, 1}

	opt := NewSGDOptimizer()
	opt.Step([]*Tensor{p}, 0.1)

	want := []float64{0.95, 2.05, 2.9}
	for i := range want {
		if math.Abs(p.data[i]-want[i]) > 1e-12 {
			t.Errorf("p[%d] = %f, want %f", i, p.data[i], want[i])
		}
	}

	opt.ZeroGrad([]*Tensor{p})
	for i, g := range p.grad {
		if g != 0 {
			t.Errorf("grad[%d] = %f after ZeroGrad", i, g)
		}
	}
}

// TestAdamWFirstStep checks the bias-corrected first update: regardless of
// gradient magnitude, the first step moves each weight by about lr against
// the gradient sign.
func TestAdamWFirstStep(t *testing.T) {
	p := NewTensor(2)
	p.data = []float64{1, -1}
	p.grad = []float64{0.001, -100}

	opt := NewAdamW(0.9, 0.999, 1e-8, 0)
	opt.Step([]*Tensor{p}, 0.1)

	// m_hat / sqrt(v_hat) = sign(g) after bias correction on step 1.
	if math.Abs(p.data[0]-0.9) > 1e-3 {
		t.Errorf("p[0] = %f, want about 0.9", p.data[0])
	}
	if math.Abs(p.data[1]-(-0.9)) > 1e-3 {
		t.Errorf("p[1] = %f, want about -0.9", p.data[1])
	}
}

// TestAdamWWeightDecay checks decay shrinks weights even with zero
// gradient.
func TestAdamWWeightDecay(t *testing.T) {
	p := NewTensor(1)
	p.data = []float64{10}
	p.grad = []float64{0}

	opt := NewAdamW(0.9, 0.999, 1e-8, 0.1)
	opt.Step([]*Tensor{p}, 0.5)

	// Decoupled decay: p -= lr * wd * p = 10 - 0.5*0.1*10 = 9.5
	if math.Abs(p.data[0]-9.5) > 1e-9 {
		t.Errorf("p = %f, want 9.5", p.data[0])
	}
}

// TestAdamWConverges checks AdamW minimizes a simple quadratic.
func TestAdamWConverges(t *testing.T) {
	p := NewTensor(1)
	p.data = []float64{5}

	opt := NewAdamW(0.9, 0.999, 1e-8, 0)
	for i := 0; i < 500; i++ {
		p.ZeroGrad()
		// L = (x - 2)^2, dL/dx = 2(x - 2)
		p.grad[0] = 2 * (p.data[0] - 2)
		opt.Step([]*Tensor{p}, 0.05)
	}

	if math.Abs(p.data[0]-2) > 0.01 {
		t.Errorf("converged to %f, want 2", p.data[0])
	}
}

// TestBuildOptimizerDispatch checks the factory and its error path.
func TestBuildOptimizerDispatch(t *testing.T) {
	opt, err := BuildOptimizer(OptimizerConfig{Name: "adamw", LR: 1e-3})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opt.(*AdamW); !ok {
		t.Errorf("adamw: got %T", opt)
	}

	opt, err = BuildOptimizer(OptimizerConfig{Name: "sgd"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opt.(*SGDOptimizer); !ok {
		t.Errorf("sgd: got %T", opt)
	}

	_, err = BuildOptimizer(OptimizerConfig{Name: "lion"})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("unknown optimizer: expected ConfigError, got %v", err)
	}
}

// TestCrossEntropyLoss checks the loss on a known distribution.
func TestCrossEntropyLoss(t *testing.T) {
	// Uniform logits over 4 classes: loss = ln(4).
	logits := NewTensor(2, 4)
	loss := CrossEntropyLoss(logits, []int{0, 3})
	if math.Abs(loss-math.Log(4)) > 1e-9 {
		t.Errorf("uniform loss = %f, want %f", loss, math.Log(4))
	}

	// A confident correct prediction has near-zero loss.
	confident := NewTensor(1, 4)
	confident.Set(100, 0, 2)
	if loss := CrossEntropyLoss(confident, []int{2}); loss > 1e-6 {
		t.Errorf("confident loss = %f, want ~0", loss)
	}
}

// TestClipGradientsReportsNorm checks the pre-clip norm is returned.
func TestClipGradientsReportsNorm(t *testing.T) {
	p := NewTensor(2)
	p.grad = []float64{3, 4}

	norm := ClipGradients([]*Tensor{p}, 10)
	if math.Abs(norm-5) > 1e-12 {
		t.Errorf("reported norm = %f, want 5", norm)
	}
	// Under the limit: untouched.
	if p.grad[0] != 3 || p.grad[1] != 4 {
		t.Errorf("gradient modified under the limit: %v", p.grad)
	}
}
