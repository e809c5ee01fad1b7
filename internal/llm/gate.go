package llm

import (
	"context"
	"sync"
	"time"

	"github.com/sentrastack/sentra-triage/internal/metrics"
)

// Priority orders pending completion requests. Higher weights dispatch first;
// requests of equal priority dispatch in arrival order.
type Priority int

const (
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

type pendingRequest struct {
	priority   Priority
	enqueuedAt time.Time
	start      chan struct{}
}

// Gate is the single process-wide concurrency gate in front of the completion
// capability. At most max requests run at once; the rest wait in a pending
// list ordered by priority weight. Pending depth is unbounded.
type Gate struct {
	client Client
	max    int

	mu      sync.Mutex
	active  int
	pending []*pendingRequest
}

// NewGate wraps client with a gate admitting up to max concurrent calls.
func NewGate(client Client, max int) *Gate {
	if max <= 0 {
		max = 2
	}
	return &Gate{client: client, max: max}
}

// Complete runs one completion call through the gate. If a slot is free the
// call runs immediately; otherwise the caller waits until dispatched. Errors
// from the backend propagate only to this caller and still free the slot.
func (g *Gate) Complete(ctx context.Context, priority Priority, req Request) (Completion, error) {
	if err := g.acquire(ctx, priority); err != nil {
		return Completion{}, err
	}
	defer g.release()

	metrics.ObserveGateDispatch(priority.String())
	return g.client.Complete(ctx, req)
}

// Pending reports the current depth of the waiting list.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Gate) acquire(ctx context.Context, priority Priority) error {
	g.mu.Lock()
	if g.active < g.max {
		g.active++
		g.mu.Unlock()
		return nil
	}

	entry := &pendingRequest{
		priority:   priority,
		enqueuedAt: time.Now(),
		start:      make(chan struct{}),
	}
	g.insert(entry)
	metrics.SetGatePending(len(g.pending))
	g.mu.Unlock()

	select {
	case <-entry.start:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		// The slot may have been handed over concurrently with cancellation.
		if !g.remove(entry) {
			g.mu.Unlock()
			<-entry.start
			g.release()
			return ctx.Err()
		}
		metrics.SetGatePending(len(g.pending))
		g.mu.Unlock()
		return ctx.Err()
	}
}

// release hands the freed slot to the highest-priority waiter, or decrements
// the active count when nothing is pending.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.pending) > 0 {
		next := g.pending[0]
		g.pending = g.pending[1:]
		metrics.SetGatePending(len(g.pending))
		close(next.start)
		return
	}
	g.active--
}

// insert places the entry before the first pending request of strictly lower
// priority, preserving FIFO order among equals.
func (g *Gate) insert(entry *pendingRequest) {
	idx := len(g.pending)
	for i, p := range g.pending {
		if p.priority < entry.priority {
			idx = i
			break
		}
	}
	g.pending = append(g.pending, nil)
	copy(g.pending[idx+1:], g.pending[idx:])
	g.pending[idx] = entry
}

func (g *Gate) remove(entry *pendingRequest) bool {
	for i, p := range g.pending {
		if p == entry {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			return true
		}
	}
	return false
}
