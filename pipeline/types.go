// Package pipeline manages the lifecycle of inference pipelines for the
// upscaling worker: weight acquisition, engine construction, and the
// single-slot cache that keeps one pipeline live across runs.
package pipeline

import (
	"fmt"

	"upscaler/backend"
	"upscaler/raster"
)

// Precision is the numeric representation a pipeline is constructed with.
type Precision string

const (
	// PrecisionFull is full-precision (fp32) weights.
	PrecisionFull Precision = "full"

	// PrecisionQ8 is 8-bit quantized weights.
	PrecisionQ8 Precision = "q8"

	// PrecisionQ4 is 4-bit quantized weights.
	PrecisionQ4 Precision = "q4"

	// PrecisionQ4F16 is 4-bit quantized weights with fp16 accumulation.
	PrecisionQ4F16 Precision = "q4f16"
)

// Valid reports whether p is a supported precision.
func (p Precision) Valid() bool {
	switch p {
	case PrecisionFull, PrecisionQ8, PrecisionQ4, PrecisionQ4F16:
		return true
	}
	return false
}

// Key identifies one constructed pipeline for cache reuse. Two runs with
// equal keys must share a single pipeline instance.
type Key struct {
	// ModelID names the model in the registry.
	ModelID string

	// Precision is the numeric representation of the weights.
	Precision Precision

	// Backend is the execution target the pipeline was built for.
	Backend backend.Kind
}

// Validate checks that all key fields are populated and supported.
func (k Key) Validate() error {
	if k.ModelID == "" {
		return fmt.Errorf("%w: empty model id", ErrInvalidKey)
	}
	if !k.Precision.Valid() {
		return fmt.Errorf("%w: precision %q", ErrInvalidKey, k.Precision)
	}
	if !k.Backend.Valid() {
		return fmt.Errorf("%w: backend %q", ErrInvalidKey, k.Backend)
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ModelID, k.Precision, k.Backend)
}

// Options carries the construction parameters derived from a backend
// probe decision.
type Options struct {
	// Threads is the intra-op thread count for CPU execution. Ignored for
	// GPU pipelines.
	Threads int

	// DeviceID selects the CUDA device for GPU execution.
	DeviceID int
}

// ProgressFunc receives pipeline-load progress. percent is normalized to
// [0,100]; status is free-form human-readable text and may be empty.
// Progress is purely informative; dropping events must not affect the run.
type ProgressFunc func(percent float64, status string)

// Pipeline is the opaque inference capability: given pixels, produce
// pixels, preserving or scaling the raster. Output images may carry fewer
// than 4 channels; callers normalize.
//
// Implementations are not safe for concurrent Run calls; the worker's
// serial execution model guarantees single-threaded access.
type Pipeline interface {
	// Run performs one inference call on a tile or whole image.
	Run(in raster.Image) (raster.Image, error)

	// Close releases the engine resources. The pipeline is unusable
	// afterwards.
	Close() error
}
