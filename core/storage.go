package core

import (
	"context"
	"time"
)

// QueryFilters narrows a governed query. Zero values mean "no restriction".
type QueryFilters struct {
	MemoryTypes []MemoryType `json:"memory_types,omitempty"`
	Sensitivity Sensitivity  `json:"sensitivity,omitempty"`
	Scope       Scope        `json:"scope,omitempty"`
}

// MatchesType reports whether the memory type passes the filter set.
func (f QueryFilters) MatchesType(m MemoryType) bool {
	if len(f.MemoryTypes) == 0 {
		return true
	}
	for _, t := range f.MemoryTypes {
		if t == m {
			return true
		}
	}
	return false
}

// FilterStats counts per-reason exclusions during a governed retrieval.
// Expired and unauthorized exclusions are tracked separately so audit
// records can state exactly why each item never left the boundary.
type FilterStats struct {
	Examined       int `json:"examined"`
	FilterMismatch int `json:"filter_mismatch"`
	Expired        int `json:"expired"`
	ScopeDenied    int `json:"scope_denied"`
	ReadDenied     int `json:"read_denied"`
	BudgetExcluded int `json:"budget_excluded"`
}

// FilteredTotal is the number of examined items excluded for any reason.
func (s FilterStats) FilteredTotal() int {
	return s.FilterMismatch + s.Expired + s.ScopeDenied + s.ReadDenied + s.BudgetExcluded
}

// QueryResult is the outcome of a governed query: the already-filtered
// memories, the per-reason exclusion counts and the audit record the
// adapter appended for the decision.
type QueryResult struct {
	Memories []Memory
	Stats    FilterStats
	Audit    AuditRecord
}

// WriteMeta carries decision context from the policy engine into the
// adapter so the write audit record reflects the evaluation that approved
// the persistence.
type WriteMeta struct {
	RequestID     string
	PolicyVersion string
	Reason        string
}

// AuditFilters narrows an audit log query. Zero values mean unbounded.
type AuditFilters struct {
	AgentID   string
	Operation Operation
	Start     time.Time
	End       time.Time
	Limit     int
}

// StorageAdapter is the contract every memory backend must provide. All
// governance filtering happens inside the adapter, before data crosses the
// boundary: an adapter never returns unfiltered results for the caller to
// filter. Every operation appends an audit record for its decision, denials
// included, and reports failure if that append fails.
type StorageAdapter interface {
	// Write persists the memory and its audit record in the same logical
	// transaction; both succeed or both are reported as failed.
	Write(ctx context.Context, memory Memory, meta WriteMeta) (AuditRecord, error)

	// Read applies read-time policy evaluation before returning content.
	// A denial returns a nil memory, the denial audit record and a typed
	// error (PolicyEnforcementError, IsolationViolationError or
	// MemoryNotFoundError).
	Read(ctx context.Context, memoryID, agentID string, check PolicyCheck) (*Memory, AuditRecord, error)

	// Query returns memories already filtered by TTL, scope isolation,
	// read permission and the supplied filters, with per-reason counts.
	Query(ctx context.Context, filters QueryFilters, agentID string, check PolicyCheck) (QueryResult, error)

	// Delete hard-deletes a memory. Deleting an absent or already-deleted
	// id fails with MemoryNotFoundError.
	Delete(ctx context.Context, memoryID, actorID, reason string) (AuditRecord, error)

	// GetAuditLog is a read-only passthrough to the audit ledger.
	GetAuditLog(ctx context.Context, filters AuditFilters) ([]AuditRecord, error)

	// HealthCheck reports backend liveness.
	HealthCheck(ctx context.Context) error
}
