package shutdown

import (
	"context"
	"sort"
	"sync"
)

// Hook is a cleanup function invoked during graceful shutdown. The context
// carries the remaining shutdown deadline.
type Hook func(ctx context.Context) error

// hookEntry pairs a registered Hook with its ordering metadata.
type hookEntry struct {
	name     string
	fn       Hook
	priority int // lower runs first
}

// Registry holds named cleanup hooks and executes them in priority order.
// Lower priority values run earlier, so the outermost surfaces (listeners,
// client connections) can be registered to close before the stores they
// write to.
type Registry struct {
	mu      sync.Mutex
	entries []hookEntry
	closed  bool
}

// NewRegistry creates an empty hook Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook under the given name. Registration after Shutdown
// has run is ignored.
//
// Priority convention used by this process:
//   - 10: close the transport listener and client connections
//   - 20: stop the inference worker and dispose the pipeline cache
//   - 30: flush and close the run journal
//   - 35: close the database
//   - 40+: remove stale temp files, final log sync
func (r *Registry) Register(name string, priority int, fn Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.entries = append(r.entries, hookEntry{name: name, fn: fn, priority: priority})
}

// Shutdown runs every registered hook in priority order and returns the
// errors of the ones that failed. All hooks run even when earlier ones
// fail. After Shutdown the registry is closed and returns nil on reuse.
func (r *Registry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := make([]hookEntry, len(r.entries))
	copy(sorted, r.entries)
	r.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	var errs []error
	for _, entry := range sorted {
		if err := entry.fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Names lists the registered hook names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := make([]hookEntry, len(r.entries))
	copy(sorted, r.entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	names := make([]string, len(sorted))
	for i, entry := range sorted {
		names[i] = entry.name
	}
	return names
}

// Count returns how many hooks are registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
