package killswitch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/memgov/memgov/core"
)

// StateStore is the authoritative home of agent lifecycle state. The kill
// switch consults it on every check and never caches what it returns; any
// staleness window here would let a disabled agent slip one more operation
// through.
type StateStore interface {
	// Get returns the current status of the agent. Agents never seen
	// before are enabled.
	Get(ctx context.Context, agentID string) (core.AgentStatus, error)

	// Set replaces the agent's status.
	Set(ctx context.Context, status core.AgentStatus) error

	// List returns the status of every known agent.
	List(ctx context.Context) ([]core.AgentStatus, error)

	// DisableAll atomically transitions every non-disabled agent to
	// disabled and returns the agents it transitioned. No agent observed
	// mid-call can transition back to enabled.
	DisableAll(ctx context.Context, reason, actorID string, at time.Time) ([]core.AgentStatus, error)
}

// InMemoryStateStore is a mutex-guarded StateStore for tests and
// single-process deployments. Reads go straight to the map under the lock;
// there is no derived or cached view to go stale.
type InMemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]core.AgentStatus
}

var _ StateStore = (*InMemoryStateStore)(nil)

// NewInMemoryStateStore constructs an empty state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]core.AgentStatus)}
}

// Get returns the stored status, or an enabled default for unknown agents.
func (s *InMemoryStateStore) Get(_ context.Context, agentID string) (core.AgentStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[agentID]; ok {
		return st, nil
	}
	return core.AgentStatus{AgentID: agentID, State: core.AgentEnabled}, nil
}

// Set replaces the agent's status.
func (s *InMemoryStateStore) Set(_ context.Context, status core.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[status.AgentID] = status
	return nil
}

// List returns a snapshot of all known agents, ordered by agent id for
// deterministic iteration.
func (s *InMemoryStateStore) List(_ context.Context) ([]core.AgentStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AgentStatus, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// DisableAll flips every non-disabled agent to disabled under one lock
// acquisition, so no concurrent enable can interleave.
func (s *InMemoryStateStore) DisableAll(_ context.Context, reason, actorID string, at time.Time) ([]core.AgentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var transitioned []core.AgentStatus
	for id, st := range s.states {
		if st.State == core.AgentDisabled {
			continue
		}
		st.State = core.AgentDisabled
		st.DisabledAt = &at
		st.Reason = reason
		st.ActorID = actorID
		s.states[id] = st
		transitioned = append(transitioned, st)
	}
	sort.Slice(transitioned, func(i, j int) bool { return transitioned[i].AgentID < transitioned[j].AgentID })
	return transitioned, nil
}
