package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// "Algorithms" are named training-time transformation plugins, selected by
// string in the run config:
//
//   algorithms:
//     - name: gradient_clipping
//       args: {clipping_threshold: 1.0}
//     - name: gated_linear_units
//
// Each algorithm implements one or both optional hooks, and the trainer
// probes for them by type assertion:
//
//   ConfigAlgorithm   mutates the model config before the model is built
//                     (architecture surgery: swap the FFN or norm variant)
//   GradientAlgorithm runs after backward, before the optimizer step
//                     (gradient surgery: clipping)
//
// Unknown algorithm names and unknown argument keys are configuration
// errors. This keeps typos from silently training a different model.
//
// ===========================================================================

// Algorithm is a named training-time transformation. Concrete hooks are
// discovered by asserting to ConfigAlgorithm or GradientAlgorithm.
type Algorithm interface {
	Name() string
}

// ConfigAlgorithm rewrites the model config before the model is built.
type ConfigAlgorithm interface {
	Algorithm
	ApplyConfig(cfg *Config)
}

// GradientAlgorithm runs between backward and the optimizer step.
type GradientAlgorithm interface {
	Algorithm
	AfterBackward(params []*Tensor)
}

// GradientClipping rescales gradients whose global L2 norm exceeds the
// threshold.
type GradientClipping struct {
	Threshold float64
}

func (a *GradientClipping) Name() string { return "gradient_clipping" }

// AfterBackward clips the global gradient norm in place.
func (a *GradientClipping) AfterBackward(params []*Tensor) {
	ClipGradients(params, a.Threshold)
}

// GatedLinearUnits swaps the feed-forward sublayers to SwiGLU.
type GatedLinearUnits struct{}

func (a *GatedLinearUnits) Name() string { return "gated_linear_units" }

// ApplyConfig selects the SwiGLU feed-forward variant.
func (a *GatedLinearUnits) ApplyConfig(cfg *Config) {
	cfg.FFN = FFNSwiGLU
}

// RMSNormSwap replaces LayerNorm sublayers with RMSNorm.
type RMSNormSwap struct{}

func (a *RMSNormSwap) Name() string { return "rms_norm" }

// ApplyConfig selects the RMSNorm variant.
func (a *RMSNormSwap) ApplyConfig(cfg *Config) {
	cfg.Norm = NormRMSNorm
}

// LowPrecisionLayerNorm runs normalization sublayers at float32 precision
// while the rest of the model stays in float64.
type LowPrecisionLayerNorm struct{}

func (a *LowPrecisionLayerNorm) Name() string { return "low_precision_layernorm" }

// ApplyConfig enables float32 rounding around the norm sublayers.
func (a *LowPrecisionLayerNorm) ApplyConfig(cfg *Config) {
	cfg.NormPrecision = "float32"
}

// floatArg reads a float argument, accepting the numeric types YAML
// produces.
func floatArg(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, configErrorf("algorithms", "argument %q must be a number, got %T", key, v)
	}
}

// rejectUnknownArgs errors on any argument key outside the allowed set.
func rejectUnknownArgs(name string, args map[string]any, allowed ...string) error {
	for key := range args {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return configErrorf("algorithms", "algorithm %q does not take argument %q", name, key)
		}
	}
	return nil
}

// BuildAlgorithm constructs the algorithm named in the config, passing
// through its keyword arguments.
func BuildAlgorithm(name string, args map[string]any) (Algorithm, error) {
	switch name {
	case "gradient_clipping":
		if err := rejectUnknownArgs(name, args, "clipping_threshold"); err != nil {
			return nil, err
		}
		threshold, err := floatArg(args, "clipping_threshold", 1.0)
		if err != nil {
			return nil, err
		}
		if threshold <= 0 {
			return nil, configErrorf("algorithms", "clipping_threshold must be positive, got %v", threshold)
		}
		return &GradientClipping{Threshold: threshold}, nil

	case "gated_linear_units":
		if err := rejectUnknownArgs(name, args); err != nil {
			return nil, err
		}
		return &GatedLinearUnits{}, nil

	case "rms_norm":
		if err := rejectUnknownArgs(name, args); err != nil {
			return nil, err
		}
		return &RMSNormSwap{}, nil

	case "low_precision_layernorm":
		if err := rejectUnknownArgs(name, args); err != nil {
			return nil, err
		}
		return &LowPrecisionLayerNorm{}, nil

	default:
		return nil, configErrorf("algorithms", "not sure how to build algorithm: %q", name)
	}
}

// BuildAlgorithms constructs every algorithm in the list, preserving order.
func BuildAlgorithms(cfgs []AlgorithmConfig) ([]Algorithm, error) {
	algos := make([]Algorithm, 0, len(cfgs))
	for _, ac := range cfgs {
		algo, err := BuildAlgorithm(ac.Name, ac.Args)
		if err != nil {
			return nil, err
		}
		algos = append(algos, algo)
	}
	return algos, nil
}
