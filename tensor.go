package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShapeMismatch indicates incompatible tensor shapes for an operation.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")

	// ErrInvalidShape indicates an invalid tensor shape.
	ErrInvalidShape = errors.New("tensor: invalid shape")
)

// tensorRand is the shared source for weight initialization and sampling.
// SeedRNG resets it so a run with a fixed seed reproduces the same initial
// weights and the same sampled tokens.
var tensorRand = rand.New(rand.NewSource(1))

// SeedRNG reseeds weight initialization and sampling. Call once at startup
// before any model is built.
func SeedRNG(seed int64) {
	tensorRand = rand.New(rand.NewSource(seed))
}

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order.
//
// Tensor is not safe for concurrent use. Synchronization must be
// handled by the caller if needed.
type Tensor struct {
	data  []float64 // Flat array storing all elements
	shape []int     // Dimensions [seq_len, features, ...]
	grad  []float64 // Gradient for backpropagation
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is invalid (empty or contains non-positive dimensions).
// Shape errors are programmer bugs, not runtime conditions that should be
// handled gracefully.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	// Copy shape slice to prevent external mutation
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorRand creates a tensor with values from a normal distribution
// with standard deviation 0.02, sampled via the Box-Muller transform.
func NewTensorRand(shape ...int) *Tensor {
	t := NewTensor(shape...)

	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := tensorRand.Float64(), tensorRand.Float64()
		mag := 0.02 * math.Sqrt(-2*math.Log(u1))
		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// At returns the element at the given indices.
// Panics if indices are invalid - this is a programmer error.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// flatIndex converts multi-dimensional indices to a flat index.
// Panics on invalid indices.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// ZeroGrad clears the gradient tensor. Call before backward pass.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	copy(clone.grad, t.grad)
	return clone
}

// Reshape returns a new view of the tensor with a different shape.
// The total number of elements must remain the same.
// The returned tensor shares the underlying data.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	newSize := 1
	for _, dim := range newShape {
		newSize *= dim
	}

	if newSize != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v (size %d)", len(t.data), newShape, newSize))
	}

	shapeCopy := make([]int, len(newShape))
	copy(shapeCopy, newShape)

	return &Tensor{
		data:  t.data, // Share underlying data
		shape: shapeCopy,
		grad:  t.grad, // Share gradient too
	}
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// Add performs element-wise addition: out = a + b.
// Panics if shapes don't match.
func Add(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot add shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	copy(out.data, a.data)
	floats.Add(out.data, b.data)
	return out
}

// Mul performs element-wise multiplication: out = a * b (Hadamard product).
// Panics if shapes don't match.
func Mul(a, b *Tensor) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot multiply shapes %v and %v", a.shape, b.shape))
	}

	out := NewTensor(a.shape...)
	copy(out.data, a.data)
	floats.Mul(out.data, b.data)
	return out
}

// Scale multiplies all elements by a scalar: out = a * scalar.
func Scale(a *Tensor, scalar float64) *Tensor {
	out := NewTensor(a.shape...)
	floats.AddScaled(out.data, scalar, a.data)
	return out
}

// parallelMatMulThreshold is the work size (M*N*K) above which MatMul fans
// rows out across goroutines. Below it the goroutine overhead outweighs
// the win.
const parallelMatMulThreshold = 64 * 64 * 64

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
//
// B is transposed up front so every output element is a dot product of two
// contiguous slices, then rows are split across worker goroutines for large
// matrices. The dot kernel comes from gonum.
func MatMul(a, b *Tensor) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k != k2 {
		panic(fmt.Sprintf("tensor: MatMul shape mismatch (%d,%d) @ (%d,%d)", m, k, k2, n))
	}

	bt := Transpose(b)
	out := NewTensor(m, n)

	mulRow := func(i int) {
		row := a.data[i*k : (i+1)*k]
		outRow := out.data[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			outRow[j] = floats.Dot(row, bt.data[j*k:(j+1)*k])
		}
	}

	if m*n*k < parallelMatMulThreshold || m == 1 {
		for i := 0; i < m; i++ {
			mulRow(i)
		}
		return out
	}

	workers := runtime.NumCPU()
	if workers > m {
		workers = m
	}

	var wg sync.WaitGroup
	rows := make(chan int, m)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rows {
				mulRow(i)
			}
		}()
	}
	for i := 0; i < m; i++ {
		rows <- i
	}
	close(rows)
	wg.Wait()

	return out
}

// Transpose returns the transpose of a 2D matrix: A^T.
// A: (M, N) -> A^T: (N, M).
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}

	return out
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// ReLU applies Rectified Linear Unit: f(x) = max(0, x).
func ReLU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Max(0, x.data[i])
	}
	return out
}

// GELU applies Gaussian Error Linear Unit.
// Used in transformers (GPT, BERT). Smoother than ReLU.
//
// GELU(x) ≈ 0.5 * x * (1 + tanh(√(2/π) * (x + 0.044715 * x³)))
func GELU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]
		inner := sqrt2OverPi * (v + coeff*v*v*v)
		out.data[i] = 0.5 * v * (1.0 + math.Tanh(inner))
	}

	return out
}

// Swish applies the Swish activation: x * sigmoid(x).
// Also known as SiLU. Used by the gated feed-forward variant.
func Swish(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		sigmoid := 1.0 / (1.0 + math.Exp(-x.data[i]))
		out.data[i] = x.data[i] * sigmoid
	}
	return out
}

// Softmax applies softmax function: p_i = exp(x_i) / Σ exp(x_j).
// Converts logits to probabilities (sum to 1).
//
// Numerically stable version: subtract max before exp to prevent overflow.
// Currently only supports 2D tensors (batch, features).
func Softmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: Softmax currently requires 2D tensor")
	}

	batch, features := x.shape[0], x.shape[1]
	out := NewTensor(batch, features)

	for b := 0; b < batch; b++ {
		row := x.data[b*features : (b+1)*features]
		outRow := out.data[b*features : (b+1)*features]

		maxVal := floats.Max(row)
		sum := 0.0
		for f, v := range row {
			e := math.Exp(v - maxVal)
			outRow[f] = e
			sum += e
		}
		floats.Scale(1.0/sum, outRow)
	}

	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
