package reconcile

import (
	"sort"
	"sync"

	"github.com/probe-link/probe-link-server/pkg/probe"
)

// Registry owns one engine per probe. Probes are fully independent, so
// engines share nothing and may be driven concurrently; the registry
// itself is safe for concurrent use. It is created by the application
// root and passed by handle, never a package-level singleton.
type Registry struct {
	transport Transport
	hooks     Hooks

	mu      sync.RWMutex
	engines map[probe.SerialNumber]*Engine
}

// NewRegistry creates an empty registry. The hooks are installed on
// every engine the registry creates.
func NewRegistry(transport Transport, hooks Hooks) *Registry {
	return &Registry{
		transport: transport,
		hooks:     hooks,
		engines:   make(map[probe.SerialNumber]*Engine),
	}
}

// Get returns the engine for a probe, if one exists
func (r *Registry) Get(serial probe.SerialNumber) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[serial]
	return e, ok
}

// GetOrCreate returns the engine for a probe, creating it on first
// contact.
func (r *Registry) GetOrCreate(serial probe.SerialNumber) *Engine {
	r.mu.RLock()
	e, ok := r.engines[serial]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[serial]; ok {
		return e
	}

	e = NewEngine(serial, r.transport, r.hooks)
	r.engines[serial] = e
	return e
}

// Serials returns the known probe serials, sorted
func (r *Registry) Serials() []probe.SerialNumber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]probe.SerialNumber, 0, len(r.engines))
	for s := range r.engines {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
