package main

import "math"

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Learning rate schedulers shape the step size over the course of a run.
// All three variants share the warmup phase: the rate ramps linearly from 0
// to the base rate over the first warmupSteps steps, which keeps the early
// Adam moment estimates from blowing up on random initial weights.
//
// After warmup they differ in the decay tail:
//
//   constant_with_warmup:      hold the base rate
//   cosine_with_warmup:        half-cosine from base down to alphaF * base
//   linear_decay_with_warmup:  straight line from base down to alphaF * base
//
// A scheduler is a pure function of the step counter. The trainer asks for
// LR(step) before every optimizer step, so the same scheduler value can be
// logged, replayed and tested without touching any state.
//
// ===========================================================================

// Scheduler maps a zero-based step counter to a learning rate.
type Scheduler interface {
	LR(step int) float64
}

// ConstantWithWarmup ramps up linearly, then holds the base rate.
type ConstantWithWarmup struct {
	baseLR      float64
	warmupSteps int
}

// NewConstantWithWarmup creates a constant-after-warmup scheduler.
func NewConstantWithWarmup(baseLR float64, warmupSteps int) *ConstantWithWarmup {
	return &ConstantWithWarmup{baseLR: baseLR, warmupSteps: warmupSteps}
}

// LR returns the learning rate at the given step.
func (s *ConstantWithWarmup) LR(step int) float64 {
	if step < s.warmupSteps {
		return s.baseLR * float64(step+1) / float64(s.warmupSteps)
	}
	return s.baseLR
}

// CosineWithWarmup ramps up linearly, then decays along a half cosine down
// to alphaF times the base rate.
type CosineWithWarmup struct {
	baseLR      float64
	warmupSteps int
	totalSteps  int
	alphaF      float64 // Final rate as a fraction of the base rate
}

// NewCosineWithWarmup creates a cosine decay scheduler.
func NewCosineWithWarmup(baseLR float64, warmupSteps, totalSteps int, alphaF float64) *CosineWithWarmup {
	return &CosineWithWarmup{
		baseLR:      baseLR,
		warmupSteps: warmupSteps,
		totalSteps:  totalSteps,
		alphaF:      alphaF,
	}
}

// LR returns the learning rate at the given step.
func (s *CosineWithWarmup) LR(step int) float64 {
	if step < s.warmupSteps {
		return s.baseLR * float64(step+1) / float64(s.warmupSteps)
	}

	decaySteps := s.totalSteps - s.warmupSteps
	if decaySteps <= 0 || step >= s.totalSteps {
		return s.baseLR * s.alphaF
	}

	progress := float64(step-s.warmupSteps) / float64(decaySteps)
	cosine := 0.5 * (1.0 + math.Cos(math.Pi*progress))
	return s.baseLR * (s.alphaF + (1.0-s.alphaF)*cosine)
}

// LinearWithWarmup ramps up linearly, then decays linearly down to alphaF
// times the base rate.
type LinearWithWarmup struct {
	baseLR      float64
	warmupSteps int
	totalSteps  int
	alphaF      float64
}

// NewLinearWithWarmup creates a linear decay scheduler.
func NewLinearWithWarmup(baseLR float64, warmupSteps, totalSteps int, alphaF float64) *LinearWithWarmup {
	return &LinearWithWarmup{
		baseLR:      baseLR,
		warmupSteps: warmupSteps,
		totalSteps:  totalSteps,
		alphaF:      alphaF,
	}
}

// LR returns the learning rate at the given step.
func (s *LinearWithWarmup) LR(step int) float64 {
	if step < s.warmupSteps {
		return s.baseLR * float64(step+1) / float64(s.warmupSteps)
	}

	decaySteps := s.totalSteps - s.warmupSteps
	if decaySteps <= 0 || step >= s.totalSteps {
		return s.baseLR * s.alphaF
	}

	progress := float64(step-s.warmupSteps) / float64(decaySteps)
	return s.baseLR * (1.0 - (1.0-s.alphaF)*progress)
}

// BuildScheduler constructs the scheduler named in the config. totalSteps
// is the planned length of the run, used by the decaying variants.
func BuildScheduler(cfg SchedulerConfig, baseLR float64, totalSteps int) (Scheduler, error) {
	warmup := cfg.WarmupSteps
	if warmup < 1 {
		warmup = 1
	}

	switch cfg.Name {
	case "", "constant_with_warmup":
		return NewConstantWithWarmup(baseLR, warmup), nil
	case "cosine_with_warmup":
		return NewCosineWithWarmup(baseLR, warmup, totalSteps, cfg.AlphaF), nil
	case "linear_decay_with_warmup":
		return NewLinearWithWarmup(baseLR, warmup, totalSteps, cfg.AlphaF), nil
	default:
		return nil, configErrorf("scheduler.name", "not sure how to build scheduler: %q", cfg.Name)
	}
}
