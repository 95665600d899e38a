package main

import (
	"errors"
	"math"
	"testing"
)

// TestBuildSchedulerDispatch checks every recognized name builds the right
// policy and unknown names fail with a ConfigError.
func TestBuildSchedulerDispatch(t *testing.T) {
	tests := []struct {
		name    string
		want    any
		wantErr bool
	}{
		{"constant_with_warmup", &ConstantWithWarmup{}, false},
		{"cosine_with_warmup", &CosineWithWarmup{}, false},
		{"linear_decay_with_warmup", &LinearWithWarmup{}, false},
		{"", &ConstantWithWarmup{}, false}, // Default
		{"cyclic", nil, true},
	}

	for _, tt := range tests {
		s, err := BuildScheduler(SchedulerConfig{Name: tt.name, WarmupSteps: 10}, 1e-3, 100)
		if tt.wantErr {
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("%q: expected ConfigError, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.name, err)
			continue
		}

		switch tt.want.(type) {
		case *ConstantWithWarmup:
			if _, ok := s.(*ConstantWithWarmup); !ok {
				t.Errorf("%q: got %T", tt.name, s)
			}
		case *CosineWithWarmup:
			if _, ok := s.(*CosineWithWarmup); !ok {
				t.Errorf("%q: got %T", tt.name, s)
			}
		case *LinearWithWarmup:
			if _, ok := s.(*LinearWithWarmup); !ok {
				t.Errorf("%q: got %T", tt.name, s)
			}
		}
	}
}

// TestWarmupRamp checks the shared linear warmup on all variants.
func TestWarmupRamp(t *testing.T) {
	const baseLR = 1.0
	schedulers := []Scheduler{
		NewConstantWithWarmup(baseLR, 10),
		NewCosineWithWarmup(baseLR, 10, 100, 0),
		NewLinearWithWarmup(baseLR, 10, 100, 0),
	}

	for i, s := range schedulers {
		// Step 0 starts above zero, step 9 reaches the base rate.
		if lr := s.LR(0); lr <= 0 || lr > 0.11 {
			t.Errorf("scheduler %d: LR(0) = %f, want small positive", i, lr)
		}
		if lr := s.LR(9); math.Abs(lr-baseLR) > 1e-12 {
			t.Errorf("scheduler %d: LR(9) = %f, want %f", i, lr, baseLR)
		}

		// Monotonically non-decreasing during warmup.
		for step := 1; step < 10; step++ {
			if s.LR(step) < s.LR(step-1) {
				t.Errorf("scheduler %d: warmup not monotone at step %d", i, step)
			}
		}
	}
}

// TestConstantHolds checks the constant tail.
func TestConstantHolds(t *testing.T) {
	s := NewConstantWithWarmup(3e-4, 5)
	for _, step := range []int{5, 50, 5000} {
		if lr := s.LR(step); lr != 3e-4 {
			t.Errorf("LR(%d) = %g, want 3e-4", step, lr)
		}
	}
}

// TestCosineDecayEndpoints checks the decay starts at base and lands on
// alphaF * base.
func TestCosineDecayEndpoints(t *testing.T) {
	s := NewCosineWithWarmup(1.0, 10, 110, 0.1)

	if lr := s.LR(10); math.Abs(lr-1.0) > 1e-9 {
		t.Errorf("decay start LR = %f, want 1.0", lr)
	}
	if lr := s.LR(109); math.Abs(lr-0.1) > 0.01 {
		t.Errorf("decay end LR = %f, want near 0.1", lr)
	}
	// Past the end the floor holds.
	if lr := s.LR(500); math.Abs(lr-0.1) > 1e-12 {
		t.Errorf("LR past end = %f, want 0.1", lr)
	}

	// Midpoint of a cosine is the average of the endpoints.
	mid := s.LR(10 + 50)
	if math.Abs(mid-0.55) > 0.02 {
		t.Errorf("cosine midpoint LR = %f, want about 0.55", mid)
	}
}

// TestLinearDecayShape checks the straight-line decay.
func TestLinearDecayShape(t *testing.T) {
	s := NewLinearWithWarmup(1.0, 10, 110, 0.0)

	if lr := s.LR(10); math.Abs(lr-1.0) > 1e-9 {
		t.Errorf("decay start LR = %f, want 1.0", lr)
	}
	// Halfway through decay the rate is half.
	if lr := s.LR(60); math.Abs(lr-0.5) > 1e-9 {
		t.Errorf("midpoint LR = %f, want 0.5", lr)
	}
	if lr := s.LR(2000); lr != 0 {
		t.Errorf("LR past end = %f, want 0", lr)
	}
}
