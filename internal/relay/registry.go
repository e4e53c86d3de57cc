package relay

import (
	"context"
	"errors"
	"sync"

	"market-relay-go/internal/metrics"
)

// ErrShuttingDown is returned by Registry.Run once Shutdown has been called.
var ErrShuttingDown = errors.New("relay: registry is shutting down")

// Registry tracks the live pairs of one server. It is created at startup and
// shut down with the server; pairs never see each other through it.
type Registry struct {
	mu       sync.Mutex
	pairs    map[uint64]*Pair
	shutdown bool
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty Registry. The metrics parameter is optional.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		pairs:   make(map[uint64]*Pair),
		metrics: m,
	}
}

// Run registers p, runs it to completion and deregisters it. If the registry
// is shutting down p is closed without being run and ErrShuttingDown is
// returned.
func (r *Registry) Run(ctx context.Context, p *Pair) error {
	if !r.add(p) {
		p.teardown()
		return ErrShuttingDown
	}
	defer r.remove(p)

	p.Run(ctx)
	return nil
}

func (r *Registry) add(p *Pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return false
	}
	r.pairs[p.ID()] = p
	if r.metrics != nil {
		r.metrics.PairsOpened.Inc()
		r.metrics.PairsActive.Inc()
	}
	return true
}

func (r *Registry) remove(p *Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pairs[p.ID()]; !ok {
		return
	}
	delete(r.pairs, p.ID())
	if r.metrics != nil {
		r.metrics.PairsActive.Dec()
	}
}

// Len returns the number of live pairs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// Shutdown refuses new pairs, closes every live pair and waits until they
// have all finished or ctx is done.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	live := make([]*Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		live = append(live, p)
	}
	r.mu.Unlock()

	for _, p := range live {
		p.Close()
	}
	for _, p := range live {
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
