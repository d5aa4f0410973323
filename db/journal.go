package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"upscaler/logging"
	"upscaler/worker"
)

// journalQueueCapacity bounds pending journal writes. When the queue is
// full, records are dropped rather than stalling the run loop; the journal
// is diagnostics, not source of truth.
const journalQueueCapacity = 100

// drainTimeout caps how long Close waits for pending writes.
const drainTimeout = 10 * time.Second

// Journal implements worker.Recorder with a buffered channel and one
// background writer goroutine, so Record never blocks the run loop.
type Journal struct {
	runs *Runs
	log  *logging.Logger

	queue  chan worker.RunRecord
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewJournal creates a journal writing into the given repository.
// Start must be called before records flow.
func NewJournal(runs *Runs, log *logging.Logger) *Journal {
	if log == nil {
		log = logging.Nop()
	}
	return &Journal{
		runs:  runs,
		log:   log.Named("journal"),
		queue: make(chan worker.RunRecord, journalQueueCapacity),
		done:  make(chan struct{}),
	}
}

// Start launches the background writer.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.writeLoop()
}

// Record enqueues one run record. Never blocks; a full queue drops the
// record with a warning.
func (j *Journal) Record(rec worker.RunRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- rec:
	default:
		j.log.Warn("journal queue full, dropping record",
			zap.Uint64("run_id", rec.RunID))
	}
}

// Close stops accepting records and drains pending writes, waiting at most
// drainTimeout. Safe to call more than once.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	select {
	case <-j.done:
	case <-time.After(drainTimeout):
		j.log.Warn("journal drain timed out")
	}
}

// writeLoop persists records until the queue closes.
func (j *Journal) writeLoop() {
	defer j.wg.Done()
	defer close(j.done)
	for rec := range j.queue {
		row := RunRow{
			SessionID:  rec.SessionID,
			RunID:      int64(rec.RunID),
			ModelID:    rec.ModelID,
			Precision:  rec.Precision,
			Backend:    rec.Backend,
			InWidth:    rec.InWidth,
			InHeight:   rec.InHeight,
			OutWidth:   rec.OutWidth,
			OutHeight:  rec.OutHeight,
			Scale:      rec.Scale,
			Tiles:      rec.Tiles,
			DurationMS: rec.Duration.Milliseconds(),
			Status:     rec.Status,
			Error:      rec.Error,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := j.runs.Insert(ctx, row); err != nil {
			j.log.Warn("journal insert failed",
				zap.Uint64("run_id", rec.RunID), zap.Error(err))
		}
		cancel()
	}
}
