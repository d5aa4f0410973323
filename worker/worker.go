package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"upscaler/backend"
	"upscaler/logging"
	"upscaler/pipeline"
	"upscaler/raster"
)

// DefaultQueueCapacity is the default buffer for pending run requests.
// A request arriving while one is in flight is accepted as a new logical
// run but still executes behind the current one.
const DefaultQueueCapacity = 16

// RunRecord summarizes one finished run for the journal.
type RunRecord struct {
	SessionID string
	RunID     uint64
	ModelID   string
	Precision string
	Backend   string
	InWidth   int
	InHeight  int
	OutWidth  int
	OutHeight int
	Scale     int
	Tiles     int
	Duration  time.Duration
	Status    string
	Error     string
}

// Recorder persists run records. Implementations must not block the run
// loop; the db package's async writer satisfies this.
type Recorder interface {
	Record(RunRecord)
}

// Config assembles a Worker's collaborators.
type Config struct {
	// Prober validates backend availability per run.
	Prober *backend.Prober

	// Cache owns the single live pipeline across runs.
	Cache *pipeline.Cache

	// Emit receives every outbound message. Required.
	Emit func(Outbound)

	// Journal records finished runs. Optional.
	Journal Recorder

	// SessionID tags journal rows from this worker instance.
	SessionID string

	// Logger for run lifecycle events. Optional.
	Logger *logging.Logger

	// QueueCapacity bounds the pending request queue.
	QueueCapacity int
}

// Worker processes run requests one at a time on a single goroutine.
//
// Execution is serial by construction: there is one pipeline resource and
// one run loop, so a second request submitted mid-run waits its turn. There
// is no in-protocol cancellation — a superseding run does not abort the
// prior one; both complete and post messages tagged with their own run id,
// and the caller ignores stale ids.
type Worker struct {
	probe      *backend.Prober
	cache      *pipeline.Cache
	dispatcher *Dispatcher
	emit       func(Outbound)
	journal    Recorder
	sessionID  string
	log        *logging.Logger

	queue   chan RunRequest
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// New creates a Worker. It does not start processing; call Start.
func New(cfg Config) (*Worker, error) {
	if cfg.Prober == nil || cfg.Cache == nil || cfg.Emit == nil {
		return nil, fmt.Errorf("worker: prober, cache, and emit are required")
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	w := &Worker{
		probe:     cfg.Prober,
		cache:     cfg.Cache,
		emit:      cfg.Emit,
		journal:   cfg.Journal,
		sessionID: cfg.SessionID,
		log:       log.Named("worker"),
		queue:     make(chan RunRequest, capacity),
	}
	w.dispatcher = NewDispatcher(w.emit)
	return w, nil
}

// Start launches the run loop goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop drains no further requests, waits for the in-flight run to finish,
// and disposes the pipeline cache. Safe to call once.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.cache.Dispose(); err != nil {
		w.log.Warn("pipeline dispose failed", zap.Error(err))
	}
}

// Submit enqueues a run request. It never blocks: a full queue or a
// stopped worker is reported as an error instead.
func (w *Worker) Submit(req RunRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// loop is the single-threaded run loop.
func (w *Worker) loop() {
	defer w.wg.Done()
	for req := range w.queue {
		w.runOne(req)
	}
}

// runOne executes one logical run end to end. Panics anywhere in the run
// are caught here and reported as a generic error for the run id instead
// of killing the loop.
func (w *Worker) runOne(req RunRequest) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("run panicked", zap.Uint64("run_id", req.RunID), zap.Any("panic", r))
			w.emit(Error{RunID: req.RunID, Message: fmt.Sprintf("internal worker fault: %v", r)})
			w.record(req, RunRecord{Status: "fault", Error: fmt.Sprint(r), Duration: time.Since(started)})
		}
	}()

	out, scale, tiles, err := w.execute(req)
	if err != nil {
		w.log.Warn("run failed",
			zap.Uint64("run_id", req.RunID),
			zap.String("model", req.ModelID),
			zap.Error(err))
		w.emit(Error{RunID: req.RunID, Message: err.Error()})
		w.record(req, RunRecord{Status: "error", Error: err.Error(), Duration: time.Since(started)})
		return
	}

	w.log.Info("run complete",
		zap.Uint64("run_id", req.RunID),
		zap.String("model", req.ModelID),
		zap.Int("scale", scale),
		zap.Int("tiles", tiles),
		zap.Duration("took", time.Since(started)))

	w.record(req, RunRecord{
		Status:    "ok",
		OutWidth:  out.Width,
		OutHeight: out.Height,
		Scale:     scale,
		Tiles:     tiles,
		Duration:  time.Since(started),
	})
	// Ownership of the output buffer moves to the result message.
	w.emit(Result{RunID: req.RunID, Output: FromImage(out)})
}

// execute performs validation, probe, pipeline ensure, and dispatch.
// Returns the assembled output, effective scale, and tile count (0 for the
// non-tiled path).
func (w *Worker) execute(req RunRequest) (out raster.Image, scale, tiles int, err error) {
	img := req.Image.ToImage()
	if verr := img.Validate(); verr != nil {
		return out, 0, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, verr)
	}
	if !req.Precision.Valid() {
		return out, 0, 0, fmt.Errorf("%w: precision %q", ErrInvalidRequest, req.Precision)
	}

	decision, perr := w.probe.Probe(req.Backend)
	if perr != nil {
		return out, 0, 0, perr
	}
	w.emit(Diagnostics{RunID: req.RunID, GPUAvailable: decision.GPUCount > 0})

	key := pipeline.Key{ModelID: req.ModelID, Precision: req.Precision, Backend: decision.Backend}
	opts := pipeline.Options{Threads: decision.Threads}
	pipe, cerr := w.cache.Ensure(context.Background(), key, opts, func(pct float64, status string) {
		w.emit(Progress{RunID: req.RunID, Percent: pct, Status: status})
	})
	if cerr != nil {
		return out, 0, 0, cerr
	}

	requestedScale := 0
	if req.Scale != nil {
		requestedScale = int(math.Round(*req.Scale))
		if requestedScale < 1 {
			return out, 0, 0, fmt.Errorf("%w: scale %v", ErrInvalidRequest, *req.Scale)
		}
	}

	if req.Tile != nil {
		dest, s, n, derr := w.dispatcher.RunTiled(req.RunID, pipe, img, *req.Tile, requestedScale)
		if derr != nil {
			return out, 0, 0, derr
		}
		return dest, s, n, nil
	}

	dest, s, derr := w.dispatcher.RunWhole(req.RunID, pipe, img, requestedScale)
	if derr != nil {
		return out, 0, 0, derr
	}
	return dest, s, 0, nil
}

// record fills the request-derived fields of a journal record and hands it
// to the recorder, if any.
func (w *Worker) record(req RunRequest, rec RunRecord) {
	if w.journal == nil {
		return
	}
	rec.SessionID = w.sessionID
	rec.RunID = req.RunID
	rec.ModelID = req.ModelID
	rec.Precision = string(req.Precision)
	rec.Backend = string(req.Backend)
	rec.InWidth = req.Image.Width
	rec.InHeight = req.Image.Height
	w.journal.Record(rec)
}
