package orchestrator

import (
	"sync"

	"github.com/kestral/convoke/internal/agent"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// AgentPool owns the agent fleet, bucketed by capability type. Buckets
// preserve insertion order so selection is deterministic under low
// contention.
type AgentPool struct {
	logger *zap.Logger

	mu      sync.RWMutex
	buckets map[task.CapabilityType][]*agent.Agent
	order   []*agent.Agent
	closed  bool
}

func NewAgentPool(logger *zap.Logger) *AgentPool {
	return &AgentPool{
		logger:  logger,
		buckets: make(map[task.CapabilityType][]*agent.Agent),
	}
}

// Add registers an agent under its own capability type.
func (p *AgentPool) Add(a *agent.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.buckets[a.Type] = append(p.buckets[a.Type], a)
	p.order = append(p.order, a)
	p.logger.Info("agent registered",
		zap.String("agent", a.Name),
		zap.String("id", a.ID),
		zap.String("type", string(a.Type)))
}

// Available returns the first idle agent of the given type in
// insertion order, or nil when none exists. Selection does not reserve
// the agent: a concurrent caller can win the busy flag first, and the
// agent's own fast-fail handles that race.
func (p *AgentPool) Available(c task.CapabilityType) *agent.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.buckets[c] {
		if !a.Busy() {
			return a
		}
	}
	return nil
}

// Get returns the agent with the given id, or nil.
func (p *AgentPool) Get(id string) *agent.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.order {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Agents returns a snapshot of the fleet in registration order.
func (p *AgentPool) Agents() []*agent.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*agent.Agent, len(p.order))
	copy(out, p.order)
	return out
}

// Size returns the number of registered agents.
func (p *AgentPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Counts returns the number of agents per capability type.
func (p *AgentPool) Counts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.buckets))
	for c, bucket := range p.buckets {
		out[string(c)] = len(bucket)
	}
	return out
}

// Shutdown releases the fleet. Safe to call multiple times.
func (p *AgentPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.buckets = make(map[task.CapabilityType][]*agent.Agent)
	p.order = nil
	p.logger.Info("agent pool shut down")
}
