package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"upscaler/backend"
	"upscaler/raster"
)

// ortInit guards one-time ONNX Runtime environment initialization. The
// environment is process-wide and stays up until exit; per-pipeline
// teardown only destroys sessions.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initONNXRuntime initializes the shared ONNX Runtime environment.
// libraryPath optionally points at the onnxruntime shared library; empty
// uses the library's default lookup.
func initONNXRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXPipeline runs an image-to-image upscaling model through ONNX Runtime.
//
// The model is expected to take one NCHW float32 RGB tensor in [0,1] and
// produce one or more NCHW float32 rasters. When the session yields several
// outputs, the first is canonical; the rest are destroyed unread.
type ONNXPipeline struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	closed     bool
}

// ONNXBuilder constructs ONNX pipelines from registry weights. It satisfies
// the cache's Builder contract.
type ONNXBuilder struct {
	// Registry resolves model ids to weight files.
	Registry *Registry

	// Fetcher obtains the weight files.
	Fetcher WeightFetcher

	// LibraryPath optionally locates the onnxruntime shared library.
	LibraryPath string
}

// Build fetches the weights for key and constructs a session configured for
// the key's backend: the CUDA execution provider for GPU, an intra-op
// thread pool for CPU.
func (b *ONNXBuilder) Build(ctx context.Context, key Key, opts Options, onProgress ProgressFunc) (Pipeline, error) {
	_, weights, err := b.Registry.Lookup(key.ModelID, key.Precision)
	if err != nil {
		return nil, &ConstructionError{Key: key, Stage: "fetch", Cause: err}
	}

	modelPath, err := b.Fetcher.Fetch(ctx, weights, onProgress)
	if err != nil {
		return nil, &ConstructionError{Key: key, Stage: "fetch", Cause: err}
	}

	if onProgress != nil {
		onProgress(100, "initializing inference session")
	}
	p, err := newONNXPipeline(modelPath, key.Backend, opts, b.LibraryPath)
	if err != nil {
		return nil, &ConstructionError{Key: key, Stage: "init", Cause: err}
	}
	if onProgress != nil {
		onProgress(100, "pipeline ready")
	}
	return p, nil
}

// newONNXPipeline opens an ONNX session for the given backend.
func newONNXPipeline(modelPath string, kind backend.Kind, opts Options, libraryPath string) (*ONNXPipeline, error) {
	if err := initONNXRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(inputs) < 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs, need at least 1 of each", len(inputs), len(outputs))
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	switch kind {
	case backend.GPU:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{
			"device_id": fmt.Sprintf("%d", opts.DeviceID),
		}); err != nil {
			return nil, fmt.Errorf("configure CUDA provider: %w", err)
		}
		if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("append CUDA provider: %w", err)
		}
	default:
		threads := opts.Threads
		if threads < 1 {
			threads = 1
		}
		if err := sessionOpts.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ONNXPipeline{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

// Run performs one inference call on a tile.
func (p *ONNXPipeline) Run(in raster.Image) (raster.Image, error) {
	if p.closed {
		return raster.Image{}, ErrClosed
	}
	if err := in.Validate(); err != nil {
		return raster.Image{}, err
	}

	inputTensor, err := imageToNCHW(in)
	if err != nil {
		return raster.Image{}, err
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return raster.Image{}, fmt.Errorf("pipeline: inference: %w", err)
	}
	if outputs[0] == nil {
		return raster.Image{}, ErrEmptyOutput
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return raster.Image{}, fmt.Errorf("%w: non-float32 output", ErrBadOutputShape)
	}
	return nchwToImage(outTensor)
}

// Close destroys the underlying session. Safe to call more than once.
func (p *ONNXPipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.session.Destroy()
}

// imageToNCHW converts interleaved bytes to a [1,3,H,W] float32 tensor in
// [0,1]. Images with fewer than 3 channels replicate the first channel;
// alpha is dropped.
func imageToNCHW(in raster.Image) (*ort.Tensor[float32], error) {
	w, h := in.Width, in.Height
	data := make([]float32, 3*w*h)
	plane := w * h

	for i := 0; i < plane; i++ {
		off := i * in.Channels
		r := in.Pix[off]
		g, bl := r, r
		if in.Channels >= 3 {
			g = in.Pix[off+1]
			bl = in.Pix[off+2]
		} else if in.Channels == 2 {
			g = in.Pix[off+1]
		}
		data[i] = float32(r) / 255.0
		data[plane+i] = float32(g) / 255.0
		data[2*plane+i] = float32(bl) / 255.0
	}

	tensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), data)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create input tensor: %w", err)
	}
	return tensor, nil
}

// nchwToImage converts a [1,C,H,W] float32 tensor back into interleaved
// bytes, clamping to [0,255].
func nchwToImage(t *ort.Tensor[float32]) (raster.Image, error) {
	shape := t.GetShape()
	if len(shape) != 4 || shape[0] != 1 {
		return raster.Image{}, fmt.Errorf("%w: %v", ErrBadOutputShape, shape)
	}
	channels := int(shape[1])
	height := int(shape[2])
	width := int(shape[3])
	if channels < 1 || channels > raster.RGBAChannels || height < 1 || width < 1 {
		return raster.Image{}, fmt.Errorf("%w: %v", ErrBadOutputShape, shape)
	}

	data := t.GetData()
	plane := width * height
	if len(data) < channels*plane {
		return raster.Image{}, fmt.Errorf("%w: %d values for %v", ErrBadOutputShape, len(data), shape)
	}

	out := raster.Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, channels*plane),
	}
	for c := 0; c < channels; c++ {
		src := data[c*plane : (c+1)*plane]
		for i, v := range src {
			out.Pix[i*channels+c] = clampByte(v * 255.0)
		}
	}
	return out, nil
}

// clampByte rounds and clamps a float sample to a byte.
func clampByte(v float32) byte {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return byte(r)
}
