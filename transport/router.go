package transport

import (
	"sync"

	"upscaler/worker"
)

// sender is the part of a client connection the router needs: a way to
// queue an encoded frame without blocking.
type sender interface {
	enqueue(frame []byte) bool
}

// RunRouter maps run ids to the connection that submitted them, so the
// worker's outbound messages reach only their owner. Result and Error
// are terminal for a run and release the route; Progress and Diagnostics
// keep it alive.
type RunRouter struct {
	mu     sync.Mutex
	routes map[uint64]sender
}

// NewRunRouter creates an empty RunRouter.
func NewRunRouter() *RunRouter {
	return &RunRouter{routes: make(map[uint64]sender)}
}

// Claim binds a run id to a connection. A resubmitted id simply takes
// over the route; the worker processes runs serially, so the previous
// run with that id has already finished or will be reported to the new
// owner, matching last-submission-wins semantics.
func (r *RunRouter) Claim(runID uint64, s sender) {
	r.mu.Lock()
	r.routes[runID] = s
	r.mu.Unlock()
}

// Release drops every route owned by the given connection. Called when
// the connection closes; messages for its runs are discarded afterwards.
func (r *RunRouter) Release(s sender) {
	r.mu.Lock()
	for id, owner := range r.routes {
		if owner == s {
			delete(r.routes, id)
		}
	}
	r.mu.Unlock()
}

// Dispatch encodes an outbound worker message and queues it on the
// owning connection. Unroutable messages are dropped: the owner has
// disconnected and nobody else may see its pixels.
func (r *RunRouter) Dispatch(msg worker.Outbound) {
	r.mu.Lock()
	owner, ok := r.routes[msg.Run()]
	if ok && terminal(msg) {
		delete(r.routes, msg.Run())
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	frame, err := worker.Encode(msg)
	if err != nil {
		return
	}
	owner.enqueue(frame)
}

// terminal reports whether a message ends its run.
func terminal(msg worker.Outbound) bool {
	switch msg.(type) {
	case worker.Result, worker.Error:
		return true
	}
	return false
}
