// Package backend decides which numeric execution target an upscaling run
// may use: a CUDA-capable GPU or the threaded CPU fallback.
package backend

import (
	"fmt"
	"runtime"
)

// Kind identifies a numeric execution target.
type Kind string

const (
	// GPU selects CUDA-accelerated inference.
	GPU Kind = "gpu"

	// CPU selects threaded CPU inference.
	CPU Kind = "cpu"
)

// Valid reports whether k is a known backend kind.
func (k Kind) Valid() bool {
	return k == GPU || k == CPU
}

// Decision is the outcome of a probe. It carries no allocated resources and
// is cheap to recompute.
type Decision struct {
	// Backend is the target that will execute inference.
	Backend Kind

	// Threads is the worker thread count for CPU inference. Always 1 for
	// the GPU backend.
	Threads int

	// GPUCount is the number of visible CUDA devices at probe time.
	GPUCount int
}

// Prober validates backend availability for run requests.
//
// A Prober performs no resource allocation; Probe may be called once per
// run without cost concerns. GPU detection is injectable so tests run on
// machines without NVIDIA hardware.
type Prober struct {
	// sharedMemory reports whether the process is allowed to spawn helper
	// threads backed by shared memory. When false, CPU inference is
	// clamped to a single thread.
	sharedMemory bool

	countGPUs func() (int, error)
}

// Option configures a Prober.
type Option func(*Prober)

// WithSharedMemory sets whether shared-memory threading is permitted.
// Without it, CPU runs are clamped to one thread.
func WithSharedMemory(allowed bool) Option {
	return func(p *Prober) { p.sharedMemory = allowed }
}

// WithGPUCounter replaces the CUDA device counter. Used by tests.
func WithGPUCounter(fn func() (int, error)) Option {
	return func(p *Prober) { p.countGPUs = fn }
}

// NewProber creates a Prober. By default shared-memory threading is
// permitted and GPU detection goes through NVML.
func NewProber(opts ...Option) *Prober {
	p := &Prober{
		sharedMemory: true,
		countGPUs:    nvmlDeviceCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe validates that the requested backend is usable and returns the
// execution decision.
//
// Requesting GPU on a machine without a visible CUDA device fails with
// ErrGPUUnavailable; the caller is expected to have chosen CPU as its
// fallback rather than having the probe silently downgrade.
//
// For CPU, the thread count is the logical core count when shared-memory
// threading is permitted, else 1.
func (p *Prober) Probe(requested Kind) (Decision, error) {
	if !requested.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownBackend, requested)
	}

	gpus, err := p.countGPUs()
	if err != nil {
		gpus = 0
	}

	switch requested {
	case GPU:
		if gpus < 1 {
			if err != nil {
				return Decision{}, fmt.Errorf("%w: %v", ErrGPUUnavailable, err)
			}
			return Decision{}, ErrGPUUnavailable
		}
		return Decision{Backend: GPU, Threads: 1, GPUCount: gpus}, nil

	default:
		threads := 1
		if p.sharedMemory {
			threads = runtime.NumCPU()
		}
		return Decision{Backend: CPU, Threads: threads, GPUCount: gpus}, nil
	}
}
