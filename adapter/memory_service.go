package adapter

import (
	"context"
	"strings"

	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/guard"
)

// MemoryService exposes governed memory to agent frameworks as a
// remember/recall/forget surface. One service instance serves one agent
// identity; frameworks that multiplex agents construct one per agent so
// scope isolation cannot be confused by a shared handle.
type MemoryService struct {
	agentID string
	builder *guard.Builder
	storage core.StorageAdapter

	memoryType  core.MemoryType
	sensitivity core.Sensitivity
	scope       core.Scope
	provenance  string
}

// ServiceOptions configures a MemoryService.
type ServiceOptions struct {
	// MemoryType applied to remembered content. Defaults to long_term.
	MemoryType core.MemoryType
	// Sensitivity applied to remembered content. Defaults to non_pii.
	Sensitivity core.Sensitivity
	// Scope applied to remembered content. Defaults to agent.
	Scope core.Scope
	// Provenance recorded on every write, typically a session or
	// conversation identifier.
	Provenance string
}

// NewMemoryService constructs the boundary for a single agent.
func NewMemoryService(agentID string, builder *guard.Builder, storage core.StorageAdapter, optFns ...func(o *ServiceOptions)) *MemoryService {
	opts := ServiceOptions{
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &MemoryService{
		agentID:     agentID,
		builder:     builder,
		storage:     storage,
		memoryType:  opts.MemoryType,
		sensitivity: opts.Sensitivity,
		scope:       opts.Scope,
		provenance:  opts.Provenance,
	}
}

// Remember writes content through the governed write path and returns the
// audit record of the decision.
func (s *MemoryService) Remember(ctx context.Context, content string) (core.AuditRecord, error) {
	return s.builder.RecordMemory(ctx, guard.WriteRequest{
		AgentID:     s.agentID,
		Content:     content,
		MemoryType:  s.memoryType,
		Sensitivity: s.sensitivity,
		Scope:       s.scope,
		Provenance:  s.provenance,
	})
}

// Recall builds governed context and optionally narrows it to memories
// containing the query substring. The substring match runs after
// governance, on content the agent was already entitled to see.
func (s *MemoryService) Recall(ctx context.Context, query string, limit int) ([]core.Memory, error) {
	gc, err := s.builder.BuildContext(ctx, core.ContextRequest{
		AgentID:  s.agentID,
		MaxItems: limit,
	})
	if err != nil {
		return nil, err
	}
	if query == "" {
		return gc.Memories, nil
	}
	matched := make([]core.Memory, 0, len(gc.Memories))
	for _, m := range gc.Memories {
		if strings.Contains(m.Content, query) {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

// Get reads one memory by id under the agent's policy check.
func (s *MemoryService) Get(ctx context.Context, memoryID string) (*core.Memory, error) {
	memory, _, err := s.storage.Read(ctx, memoryID, s.agentID, core.NewPolicyCheck(s.agentID))
	if err != nil {
		return nil, err
	}
	return memory, nil
}

// Forget hard-deletes one memory, attributing the deletion to the agent.
func (s *MemoryService) Forget(ctx context.Context, memoryID string) error {
	_, err := s.storage.Delete(ctx, memoryID, s.agentID, "agent_forget")
	return err
}
