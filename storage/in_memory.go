package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/policy"
)

// InMemoryAdapter is a process-local StorageAdapter guarded by an RWMutex.
// Memories are cloned on read so callers cannot mutate stored state. It
// implements the full governance contract and is suitable for tests and
// single-process deployments; swap in storage/sqlite for durability.
type InMemoryAdapter struct {
	mu       sync.RWMutex
	memories map[string]core.Memory
	order    []string // memory ids in insertion order

	engine *policy.Engine
	ledger audit.Ledger
}

var _ core.StorageAdapter = (*InMemoryAdapter)(nil)

// NewInMemoryAdapter constructs an empty adapter evaluating reads with the
// given policy engine and auditing every decision to the ledger.
func NewInMemoryAdapter(engine *policy.Engine, ledger audit.Ledger) *InMemoryAdapter {
	return &InMemoryAdapter{
		memories: make(map[string]core.Memory),
		engine:   engine,
		ledger:   ledger,
	}
}

// Write persists the memory after revalidating its policy. The memory is
// only observable once its audit record is durably appended: a failed
// append rolls the write back and reports failure.
func (a *InMemoryAdapter) Write(ctx context.Context, memory core.Memory, meta core.WriteMeta) (core.AuditRecord, error) {
	if memory.AgentID == "" {
		return core.AuditRecord{}, &core.InvalidPolicyError{Reason: "agent_id_required"}
	}
	if err := a.engine.ValidatePolicy(memory.Policy); err != nil {
		return core.AuditRecord{}, err
	}

	rec := core.NewAuditRecord(memory.AgentID, core.OperationWrite, core.DecisionAllowed, meta.Reason)
	if rec.Reason == "" {
		rec.Reason = "policy_enforcement_passed"
	}
	rec.RequestID = meta.RequestID
	rec.MemoryID = memory.MemoryID
	rec.PolicyVersion = a.policyVersion(meta)
	rec.Metadata = map[string]string{
		"memory_type": string(memory.Policy.MemoryType),
		"sensitivity": string(memory.Policy.Sensitivity),
		"scope":       string(memory.Policy.Scope),
		"ttl_seconds": fmt.Sprintf("%d", memory.Policy.TTLSeconds),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "write audit", Err: err}
	}
	a.memories[memory.MemoryID] = memory
	a.order = append(a.order, memory.MemoryID)
	return signed, nil
}

// Read applies read-time policy evaluation before returning content. A
// denial returns the denial audit record and a typed error.
func (a *InMemoryAdapter) Read(ctx context.Context, memoryID, agentID string, check core.PolicyCheck) (*core.Memory, core.AuditRecord, error) {
	a.mu.RLock()
	memory, ok := a.memories[memoryID]
	a.mu.RUnlock()

	if !ok {
		rec, aerr := a.denied(ctx, agentID, core.OperationRead, memoryID, "memory_not_found")
		if aerr != nil {
			return nil, core.AuditRecord{}, aerr
		}
		return nil, rec, &core.MemoryNotFoundError{MemoryID: memoryID}
	}

	decision, evalErr := a.engine.EvaluateRead(memory, check, time.Now().UTC())
	if evalErr != nil {
		rec, aerr := a.denied(ctx, agentID, core.OperationRead, memoryID, decision.Reason)
		if aerr != nil {
			return nil, core.AuditRecord{}, aerr
		}
		return nil, rec, evalErr
	}

	rec := core.NewAuditRecord(agentID, core.OperationRead, core.DecisionAllowed, decision.Reason)
	rec.MemoryID = memoryID
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = map[string]string{
		"scope":       string(memory.Policy.Scope),
		"sensitivity": string(memory.Policy.Sensitivity),
	}
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return nil, core.AuditRecord{}, &core.StorageError{Op: "read audit", Err: err}
	}

	clone := memory
	return &clone, signed, nil
}

// Query scans stored memories applying the retrieval guard filters. Results
// are ordered most-recent-first (insertion order tiebreak) and already
// filtered; exclusion counts are tracked per reason.
func (a *InMemoryAdapter) Query(ctx context.Context, filters core.QueryFilters, agentID string, check core.PolicyCheck) (core.QueryResult, error) {
	now := time.Now().UTC()

	a.mu.RLock()
	candidates := make([]core.Memory, 0, len(a.order))
	orderIdx := make(map[string]int, len(a.order))
	for i, id := range a.order {
		if m, ok := a.memories[id]; ok {
			candidates = append(candidates, m)
			orderIdx[id] = i
		}
	}
	a.mu.RUnlock()

	var stats core.FilterStats
	stats.Examined = len(candidates)

	results := make([]core.Memory, 0, len(candidates))
	for _, m := range candidates {
		if !matchesFilters(m, filters) {
			stats.FilterMismatch++
			continue
		}
		_, evalErr := a.engine.EvaluateRead(m, check, now)
		if evalErr != nil {
			var iso *core.IsolationViolationError
			var pol *core.PolicyEnforcementError
			switch {
			case errors.As(evalErr, &iso):
				stats.ScopeDenied++
			case errors.As(evalErr, &pol) && pol.Reason == "memory_expired":
				stats.Expired++
			default:
				stats.ReadDenied++
			}
			continue
		}
		results = append(results, m)
	}

	// Most-recent-first; sequence of insertion breaks created_at ties so
	// two calls against an unchanged store return identical order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return orderIdx[results[i].MemoryID] > orderIdx[results[j].MemoryID]
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	decision := core.DecisionAllowed
	if stats.FilteredTotal() > 0 {
		decision = core.DecisionFiltered
	}
	rec := core.NewAuditRecord(agentID, core.OperationQuery, decision, "query_executed_with_filters")
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = statsMetadata(stats, len(results))

	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.QueryResult{}, &core.StorageError{Op: "query audit", Err: err}
	}

	return core.QueryResult{Memories: results, Stats: stats, Audit: signed}, nil
}

// Delete hard-deletes the memory. Deleting an absent id fails with
// MemoryNotFoundError; compliance requires knowing a delete was a no-op.
func (a *InMemoryAdapter) Delete(ctx context.Context, memoryID, actorID, reason string) (core.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	memory, ok := a.memories[memoryID]
	if !ok {
		return core.AuditRecord{}, &core.MemoryNotFoundError{MemoryID: memoryID}
	}

	rec := core.NewAuditRecord(memory.AgentID, core.OperationDelete, core.DecisionAllowed, reason)
	rec.MemoryID = memoryID
	rec.ActorID = actorID
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = map[string]string{"deletion_reason": reason}

	// Audit before the delete becomes observable; a failed append aborts
	// the delete so the caller can retry the whole operation.
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete audit", Err: err}
	}
	delete(a.memories, memoryID)
	return signed, nil
}

// GetAuditLog is a read-only passthrough to the ledger.
func (a *InMemoryAdapter) GetAuditLog(ctx context.Context, filters core.AuditFilters) ([]core.AuditRecord, error) {
	res, err := a.ledger.Query(ctx, filters)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// HealthCheck always succeeds for the in-memory adapter.
func (a *InMemoryAdapter) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored memories. Test helper.
func (a *InMemoryAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.memories)
}

func (a *InMemoryAdapter) policyVersion(meta core.WriteMeta) string {
	if meta.PolicyVersion != "" {
		return meta.PolicyVersion
	}
	return a.engine.Version()
}

func (a *InMemoryAdapter) denied(ctx context.Context, agentID string, op core.Operation, memoryID, reason string) (core.AuditRecord, error) {
	rec := core.NewAuditRecord(agentID, op, core.DecisionDenied, reason)
	rec.MemoryID = memoryID
	rec.PolicyVersion = a.engine.Version()
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "denial audit", Err: err}
	}
	return signed, nil
}

func matchesFilters(m core.Memory, f core.QueryFilters) bool {
	if !f.MatchesType(m.Policy.MemoryType) {
		return false
	}
	if f.Sensitivity != "" && m.Policy.Sensitivity != f.Sensitivity {
		return false
	}
	if f.Scope != "" && m.Policy.Scope != f.Scope {
		return false
	}
	return true
}

func statsMetadata(stats core.FilterStats, returned int) map[string]string {
	return map[string]string{
		"total_records_examined": fmt.Sprintf("%d", stats.Examined),
		"filtered_count":         fmt.Sprintf("%d", stats.FilteredTotal()),
		"expired_count":          fmt.Sprintf("%d", stats.Expired),
		"scope_denied_count":     fmt.Sprintf("%d", stats.ScopeDenied),
		"read_denied_count":      fmt.Sprintf("%d", stats.ReadDenied),
		"filter_mismatch_count":  fmt.Sprintf("%d", stats.FilterMismatch),
		"returned_count":         fmt.Sprintf("%d", returned),
	}
}
