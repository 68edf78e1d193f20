package agents

import (
	"context"
	"sync"

	"magentic/pkg/logx"
)

// Registry tracks live agent instances process-wide for shutdown-time
// cleanup. It is advisory bookkeeping only: sessions own their agents'
// lifetimes, the registry just observes. Injected into the components that
// need it rather than held as package state.
type Registry struct {
	mu     sync.Mutex
	agents map[Agent]struct{}
	logger *logx.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[Agent]struct{}),
		logger: logx.NewLogger("agent-registry"),
	}
}

// Register records a live agent. Safe for concurrent use.
func (r *Registry) Register(a Agent) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.agents[a] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes an agent. Unknown agents are ignored.
func (r *Registry) Unregister(a Agent) {
	r.mu.Lock()
	delete(r.agents, a)
	r.mu.Unlock()
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// CleanupAll closes every registered agent concurrently. Close failures are
// logged and never propagated; every agent is unregistered regardless, so
// cleanup always completes.
func (r *Registry) CleanupAll(ctx context.Context) {
	r.mu.Lock()
	snapshot := make([]Agent, 0, len(r.agents))
	for a := range r.agents {
		snapshot = append(snapshot, a)
	}
	r.agents = make(map[Agent]struct{})
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}
	r.logger.Info("closing %d registered agents", len(snapshot))

	var wg sync.WaitGroup
	for _, a := range snapshot {
		wg.Add(1)
		go func(a Agent) {
			defer wg.Done()
			if err := a.Close(ctx); err != nil {
				r.logger.Warn("close of agent %s failed: %v", a.Name(), err)
			}
		}(a)
	}
	wg.Wait()
}
