package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
var (
	ErrInvalidKey      = errors.New("pipeline: invalid pipeline key")
	ErrUnknownModel    = errors.New("pipeline: model not found in registry")
	ErrNoWeights       = errors.New("pipeline: no weights registered for precision")
	ErrChecksum        = errors.New("pipeline: weights checksum mismatch")
	ErrClosed          = errors.New("pipeline: pipeline is closed")
	ErrEmptyOutput     = errors.New("pipeline: engine produced no output")
	ErrBadOutputShape  = errors.New("pipeline: engine output has unexpected shape")
	ErrCacheDisposed   = errors.New("pipeline: cache has been disposed")
)

// ConstructionError reports a pipeline construction failure: weight fetch,
// engine initialization, or malformed weights. The cache is left empty
// after one of these so the caller can retry.
type ConstructionError struct {
	// Key identifies the pipeline that failed to build.
	Key Key

	// Stage names the construction phase that failed ("fetch", "init").
	Stage string

	// Cause is the underlying error.
	Cause error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("pipeline: constructing %s failed during %s: %v", e.Key, e.Stage, e.Cause)
}

func (e *ConstructionError) Unwrap() error {
	return e.Cause
}
