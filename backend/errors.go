package backend

import "errors"

// Sentinel errors for backend probing.
var (
	// ErrGPUUnavailable means the GPU backend was requested but no CUDA
	// device is visible in this environment.
	ErrGPUUnavailable = errors.New("backend: gpu requested but no CUDA device available")

	// ErrUnknownBackend means the requested backend kind is not one of
	// the supported targets.
	ErrUnknownBackend = errors.New("backend: unknown backend kind")
)
