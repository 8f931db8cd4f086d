package runner

import (
	"context"
	"sync"

	"xroute/pkg/types"
)

// UpdateFunc receives a snapshot of the route after every state change.
// Snapshots are copies and may be kept.
type UpdateFunc func(route *types.Route)

// Handle follows a route executing in the background
type Handle struct {
	routeID string
	done    chan struct{}
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	onUpdate UpdateFunc
	latest   *types.Route
}

func newHandle(routeID string, cancel context.CancelFunc, onUpdate UpdateFunc) *Handle {
	return &Handle{
		routeID:  routeID,
		done:     make(chan struct{}),
		cancel:   cancel,
		onUpdate: onUpdate,
	}
}

// RouteID returns the id of the executing route
func (h *Handle) RouteID() string {
	return h.routeID
}

// Done is closed when execution stops
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until execution stops and returns its error
func (h *Handle) Wait() error {
	<-h.done
	return h.Err()
}

// Err returns the execution error once Done is closed
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Detach stops update delivery. Execution continues in the background and
// keeps persisting its progress.
func (h *Handle) Detach() {
	h.mu.Lock()
	h.onUpdate = nil
	h.mu.Unlock()
}

// Attach replaces the update callback and delivers the latest snapshot
func (h *Handle) Attach(fn UpdateFunc) {
	h.mu.Lock()
	h.onUpdate = fn
	latest := h.latest
	h.mu.Unlock()
	if fn != nil && latest != nil {
		fn(latest)
	}
}

// Cancel stops execution. Transactions already broadcast are not affected and
// the route stays resumable.
func (h *Handle) Cancel() {
	h.cancel()
}

// Snapshot returns the latest route snapshot
func (h *Handle) Snapshot() *types.Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Handle) deliver(snap *types.Route) {
	h.mu.Lock()
	h.latest = snap
	fn := h.onUpdate
	h.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
