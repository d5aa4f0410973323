// Package worker implements the single-threaded upscaling run loop: it
// accepts run requests, validates backend capability, ensures a pipeline,
// dispatches tile inference, stitches the output, and streams progress,
// result, error, and diagnostics messages back to the submitter.
package worker

import (
	"encoding/json"
	"fmt"

	"upscaler/backend"
	"upscaler/pipeline"
	"upscaler/raster"
	"upscaler/tiling"
)

// Wire message type tags.
const (
	TypeRun         = "run"
	TypeProgress    = "progress"
	TypeResult      = "result"
	TypeError       = "error"
	TypeDiagnostics = "diagnostics"
)

// RunRequest is the inbound message starting one logical run. RunID
// correlates every asynchronous response with this request; the caller is
// responsible for ignoring responses carrying stale ids.
type RunRequest struct {
	// RunID uniquely identifies this in-flight request.
	RunID uint64 `json:"id"`

	// Backend is the requested execution target. The worker never
	// silently downgrades; an unavailable backend fails the run.
	Backend backend.Kind `json:"backend"`

	// ModelID names the upscaling model in the registry.
	ModelID string `json:"modelId"`

	// Precision selects the weights variant.
	Precision pipeline.Precision `json:"precision"`

	// Image is the input raster. Pixel data travels as base64 in JSON.
	Image ImagePayload `json:"image"`

	// Scale, when set, is trusted outright as the output scale factor.
	// When absent the scale is derived from the first tile's output.
	Scale *float64 `json:"scale,omitempty"`

	// Tile, when set, requests the tiled path with this geometry.
	Tile *tiling.Config `json:"tile,omitempty"`
}

// ImagePayload is the wire shape of a raster crossing the worker boundary.
// Channels defaults to RGBA when omitted.
type ImagePayload struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels,omitempty"`
	Data     []byte `json:"data"`
}

// ToImage converts the payload into a raster.Image, taking ownership of the
// pixel buffer (moved, not copied).
func (p ImagePayload) ToImage() raster.Image {
	channels := p.Channels
	if channels == 0 {
		channels = raster.RGBAChannels
	}
	return raster.Image{
		Width:    p.Width,
		Height:   p.Height,
		Channels: channels,
		Pix:      p.Data,
	}
}

// FromImage wraps a raster.Image for the wire, transferring buffer
// ownership to the payload.
func FromImage(m raster.Image) ImagePayload {
	return ImagePayload{
		Width:    m.Width,
		Height:   m.Height,
		Channels: m.Channels,
		Data:     m.Pix,
	}
}

// Outbound is the closed set of messages the worker emits. Every variant
// carries the originating run id. The unexported marker keeps the set
// closed so dispatch over variants is exhaustive by construction.
type Outbound interface {
	Run() uint64
	outbound()
}

// Progress reports pipeline-load or per-tile progress. Both streams are
// purely informative: dropping them must not affect the run outcome.
type Progress struct {
	// RunID is the originating run.
	RunID uint64 `json:"id"`

	// Percent is normalized to [0,100].
	Percent float64 `json:"progress"`

	// Status is optional human-readable text ("downloading ...").
	Status string `json:"status,omitempty"`

	// Tile and Tiles are set only on the tiled path: Tile is the 1-based
	// index of the tile just completed, Tiles the total.
	Tile  int `json:"tile,omitempty"`
	Tiles int `json:"tiles,omitempty"`
}

// Result delivers the fully assembled output raster.
type Result struct {
	RunID  uint64       `json:"id"`
	Output ImagePayload `json:"output"`
}

// Error reports a failed run. Message is human-readable; all failure kinds
// surface through this one variant.
type Error struct {
	RunID   uint64 `json:"id"`
	Message string `json:"message"`
}

// Diagnostics carries backend capability information for a run.
type Diagnostics struct {
	RunID uint64 `json:"id"`

	// GPUAvailable reports whether a CUDA device was visible at probe
	// time, regardless of which backend the run selected.
	GPUAvailable bool `json:"gpuAvailable"`
}

func (m Progress) Run() uint64    { return m.RunID }
func (m Result) Run() uint64      { return m.RunID }
func (m Error) Run() uint64       { return m.RunID }
func (m Diagnostics) Run() uint64 { return m.RunID }

func (Progress) outbound()    {}
func (Result) outbound()      {}
func (Error) outbound()       {}
func (Diagnostics) outbound() {}

// Encode serializes an outbound message with its type tag. The switch is
// exhaustive over the closed variant set.
func Encode(m Outbound) ([]byte, error) {
	var typ string
	switch m.(type) {
	case Progress:
		typ = TypeProgress
	case Result:
		typ = TypeResult
	case Error:
		typ = TypeError
	case Diagnostics:
		typ = TypeDiagnostics
	default:
		return nil, fmt.Errorf("worker: unknown outbound message %T", m)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("worker: encode %s: %w", typ, err)
	}
	// Splice the type tag into the object.
	tagged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &tagged); err != nil {
		return nil, fmt.Errorf("worker: encode %s: %w", typ, err)
	}
	tagged["type"] = json.RawMessage(fmt.Sprintf("%q", typ))
	return json.Marshal(tagged)
}

// DecodeRun parses an inbound wire message, which must be a run request.
func DecodeRun(data []byte) (RunRequest, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return RunRequest{}, fmt.Errorf("worker: decode message: %w", err)
	}
	if probe.Type != TypeRun {
		return RunRequest{}, fmt.Errorf("%w: %q", ErrUnknownMessage, probe.Type)
	}

	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RunRequest{}, fmt.Errorf("worker: decode run request: %w", err)
	}
	return req, nil
}
