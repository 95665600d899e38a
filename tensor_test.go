package main

import (
	"math"
	"testing"
)

// TestTensorBasics tests basic tensor creation and access.
func TestTensorBasics(t *testing.T) {
	tensor := NewTensor(2, 3)

	shape := tensor.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", shape)
	}
	if tensor.Size() != 6 {
		t.Errorf("expected size 6, got %d", tensor.Size())
	}

	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)

	if v := tensor.At(0, 0); v != 1.5 {
		t.Errorf("expected 1.5, got %f", v)
	}
	if v := tensor.At(1, 2); v != 2.5 {
		t.Errorf("expected 2.5, got %f", v)
	}
}

// TestMatMul tests matrix multiplication against hand-computed values.
func TestMatMul(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(3, 2)
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i + 1)
		b.data[i] = float64(i + 1)
	}

	c := MatMul(a, b)

	// C[0,0] = 1*1 + 2*3 + 3*5 = 22, etc.
	expected := [][]float64{
		{22, 28},
		{49, 64},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v := c.At(i, j); v != expected[i][j] {
				t.Errorf("C[%d,%d]: expected %f, got %f", i, j, expected[i][j], v)
			}
		}
	}
}

// TestMatMulParallel checks that the parallel path produces the same result
// as the serial path by crossing the work-size threshold.
func TestMatMulParallel(t *testing.T) {
	SeedRNG(7)
	a := NewTensorRand(128, 64)
	b := NewTensorRand(64, 96)

	got := MatMul(a, b)

	// Serial reference
	want := NewTensor(128, 96)
	for i := 0; i < 128; i++ {
		for j := 0; j < 96; j++ {
			sum := 0.0
			for k := 0; k < 64; k++ {
				sum += a.At(i, k) * b.At(k, j)
			}
			want.Set(sum, i, j)
		}
	}

	for i := range got.data {
		if math.Abs(got.data[i]-want.data[i]) > 1e-9 {
			t.Fatalf("parallel MatMul diverges from serial at %d: %g vs %g", i, got.data[i], want.data[i])
		}
	}
}

// TestTranspose tests matrix transposition.
func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i)
	}

	at := Transpose(a)
	shape := at.Shape()
	if shape[0] != 3 || shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", shape)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if at.At(j, i) != a.At(i, j) {
				t.Errorf("transpose mismatch at (%d,%d)", i, j)
			}
		}
	}
}

// TestSoftmaxRows checks that each softmax row is a probability
// distribution.
func TestSoftmaxRows(t *testing.T) {
	x := NewTensor(2, 4)
	x.data = []float64{1, 2, 3, 4, -1, 0, 1, 1000}

	probs := Softmax(x)

	for b := 0; b < 2; b++ {
		sum := 0.0
		for f := 0; f < 4; f++ {
			v := probs.At(b, f)
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Errorf("probs[%d,%d]=%f outside [0,1]", b, f, v)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("row %d sums to %f, want 1", b, sum)
		}
	}

	// The huge logit must dominate without overflow.
	if p := probs.At(1, 3); p < 0.999 {
		t.Errorf("expected dominant logit to take the mass, got %f", p)
	}
}

// TestSeedRNGReproducible checks that reseeding reproduces initial weights.
func TestSeedRNGReproducible(t *testing.T) {
	SeedRNG(99)
	a := NewTensorRand(4, 4)
	SeedRNG(99)
	b := NewTensorRand(4, 4)

	for i := range a.data {
		if a.data[i] != b.data[i] {
			t.Fatalf("same seed produced different weights at %d", i)
		}
	}
}

// TestAddAndMul tests element-wise operations.
func TestAddAndMul(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 2)
	a.data = []float64{1, 2, 3, 4}
	b.data = []float64{10, 20, 30, 40}

	sum := Add(a, b)
	prod := Mul(a, b)

	wantSum := []float64{11, 22, 33, 44}
	wantProd := []float64{10, 40, 90, 160}
	for i := range wantSum {
		if sum.data[i] != wantSum[i] {
			t.Errorf("Add[%d]: got %f want %f", i, sum.data[i], wantSum[i])
		}
		if prod.data[i] != wantProd[i] {
			t.Errorf("Mul[%d]: got %f want %f", i, prod.data[i], wantProd[i])
		}
	}
}
