// Package shutdown coordinates graceful teardown of the worker process:
// it tracks in-flight client sessions, runs registered cleanup hooks in a
// fixed order, and escalates to a forced exit on a repeated signal.
package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTrackerClosed is returned when a session is started on a closed tracker.
var ErrTrackerClosed = errors.New("shutdown: tracker closed")

// ErrWaitTimeout is returned when Wait gives up before all sessions finish.
var ErrWaitTimeout = errors.New("shutdown: timed out waiting for active sessions")

// SessionTracker counts active client sessions so shutdown can wait for
// them to drain before tearing down the worker and its storage.
//
// Usage:
//
//	if !tracker.Start() {
//	    return ErrTrackerClosed // shutting down, reject the connection
//	}
//	defer tracker.Done()
type SessionTracker struct {
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active int64
	closed bool
}

// NewSessionTracker creates an open SessionTracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{}
}

// Start registers a new session. It returns false if the tracker has been
// closed, in which case the caller must not call Done.
func (t *SessionTracker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	atomic.AddInt64(&t.active, 1)
	return true
}

// Done marks a session as finished. It must be called exactly once for
// every Start that returned true.
func (t *SessionTracker) Done() {
	atomic.AddInt64(&t.active, -1)
	t.wg.Done()
}

// Wait blocks until every tracked session has finished, or returns
// ErrWaitTimeout after the given duration.
func (t *SessionTracker) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// Close stops the tracker from accepting new sessions. Sessions already
// started keep running until they call Done.
func (t *SessionTracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// ActiveCount returns the number of sessions currently in flight.
func (t *SessionTracker) ActiveCount() int64 {
	return atomic.LoadInt64(&t.active)
}

// IsClosed reports whether Close has been called.
func (t *SessionTracker) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
