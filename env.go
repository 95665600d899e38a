package main

import (
	"os"
	"runtime"
	"strconv"

	"github.com/klauspost/cpuid/v2"
)

// RunEnvironment captures where a run executes: distributed coordinates
// from the environment and the host CPU. Single-process training ignores
// rank beyond logging it, but runs launched under a distributed launcher
// still record their placement.
type RunEnvironment struct {
	Rank      int
	WorldSize int

	CPUBrand string
	NumCPU   int
	AVX2     bool
	NEON     bool
}

// envInt reads an integer environment variable with a default.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// DetectRunEnvironment reads RANK/WORLD_SIZE and probes the CPU.
func DetectRunEnvironment() RunEnvironment {
	return RunEnvironment{
		Rank:      envInt("RANK", 0),
		WorldSize: envInt("WORLD_SIZE", 1),
		CPUBrand:  cpuid.CPU.BrandName,
		NumCPU:    runtime.NumCPU(),
		AVX2:      cpuid.CPU.Supports(cpuid.AVX2),
		NEON:      runtime.GOARCH == "arm64",
	}
}

// LogTo writes the environment snapshot through the run's logger.
func (e RunEnvironment) LogTo(logger TrainLogger) {
	logger.LogEvent("environment",
		"rank", e.Rank,
		"world_size", e.WorldSize,
		"cpu", e.CPUBrand,
		"cores", e.NumCPU,
		"avx2", e.AVX2,
	)
}
