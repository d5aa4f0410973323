package worker

import "errors"

// Sentinel errors for run execution.
var (
	// ErrUnknownMessage means an inbound wire message had an unrecognized
	// type tag.
	ErrUnknownMessage = errors.New("worker: unknown message type")

	// ErrInvalidRequest means a run request failed validation before any
	// work started.
	ErrInvalidRequest = errors.New("worker: invalid run request")

	// ErrTileInference means one tile's inference call failed. The whole
	// run aborts; partial output is discarded.
	ErrTileInference = errors.New("worker: tile inference failed")

	// ErrOutputAllocation means the output scale could not be determined
	// or the output buffer could not be sized.
	ErrOutputAllocation = errors.New("worker: output allocation failed")

	// ErrStopped means the worker is no longer accepting requests.
	ErrStopped = errors.New("worker: worker is stopped")

	// ErrQueueFull means the request queue is at capacity.
	ErrQueueFull = errors.New("worker: request queue is full")
)
