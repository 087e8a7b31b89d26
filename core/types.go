package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new globally unique identifier (UUID v4 string). Used for
// memory ids, audit ids and generated request ids.
func NewID() string {
	return uuid.NewString()
}

// MemoryType classifies the retention class of a memory item.
type MemoryType string

const (
	// MemoryTypeShortTerm is request-scoped memory. It is never persisted
	// beyond the request that produced it.
	MemoryTypeShortTerm MemoryType = "short_term"
	// MemoryTypeLongTerm is durable memory; a positive TTL is mandatory.
	MemoryTypeLongTerm MemoryType = "long_term"
	// MemoryTypeEpisodic is durable event-style memory; TTL mandatory and
	// eligible for decay strategies applied by external tooling.
	MemoryTypeEpisodic MemoryType = "episodic"
)

// Valid reports whether the memory type is one of the enumerated values.
func (m MemoryType) Valid() bool {
	switch m {
	case MemoryTypeShortTerm, MemoryTypeLongTerm, MemoryTypeEpisodic:
		return true
	}
	return false
}

// Persistent reports whether memory of this type may be written to a backend.
func (m MemoryType) Persistent() bool {
	return m == MemoryTypeLongTerm || m == MemoryTypeEpisodic
}

// Sensitivity classifies memory content. It drives default retention.
type Sensitivity string

const (
	// SensitivityPII marks personally identifiable information.
	SensitivityPII Sensitivity = "pii"
	// SensitivityNonPII marks content without personal data.
	SensitivityNonPII Sensitivity = "non_pii"
)

// Valid reports whether the sensitivity is one of the enumerated values.
func (s Sensitivity) Valid() bool {
	return s == SensitivityPII || s == SensitivityNonPII
}

// Scope is the visibility boundary of a memory item.
type Scope string

const (
	// ScopeAgent restricts visibility to the owning agent.
	ScopeAgent Scope = "agent"
	// ScopeTenant shares the memory across agents within the tenant.
	ScopeTenant Scope = "tenant"
)

// Valid reports whether the scope is one of the enumerated values.
func (s Scope) Valid() bool {
	return s == ScopeAgent || s == ScopeTenant
}

// Operation identifies the governed action an audit record describes.
type Operation string

const (
	// OperationWrite records a memory write attempt.
	OperationWrite Operation = "write"
	// OperationRead records a single-memory read attempt.
	OperationRead Operation = "read"
	// OperationQuery records a filtered multi-memory retrieval.
	OperationQuery Operation = "query"
	// OperationDelete records a hard delete.
	OperationDelete Operation = "delete"
	// OperationDisable records a kill-switch disable transition.
	OperationDisable Operation = "disable"
	// OperationFreeze records a kill-switch write freeze.
	OperationFreeze Operation = "freeze"
	// OperationEnable records an explicit re-enable transition.
	OperationEnable Operation = "enable"
)

// Decision is the outcome recorded for a governance decision point.
type Decision string

const (
	// DecisionAllowed marks an operation that passed every check.
	DecisionAllowed Decision = "allowed"
	// DecisionDenied marks an operation rejected by policy or kill switch.
	DecisionDenied Decision = "denied"
	// DecisionFiltered marks a retrieval whose result set was reduced by
	// governance filters before reaching the caller.
	DecisionFiltered Decision = "filtered"
)

// MemoryPolicy is the governance contract attached to a memory at write
// time. It is validated by the policy engine before any persistence and is
// carried verbatim on the stored item so that read-time enforcement is a
// pure function of (memory, policy check, now).
type MemoryPolicy struct {
	MemoryType  MemoryType  `json:"memory_type" yaml:"memory_type"`
	TTLSeconds  int64       `json:"ttl_seconds" yaml:"ttl_seconds"`
	Sensitivity Sensitivity `json:"sensitivity" yaml:"sensitivity"`
	Scope       Scope       `json:"scope" yaml:"scope"`
	AllowRead   bool        `json:"allow_read" yaml:"allow_read"`
	AllowWrite  bool        `json:"allow_write" yaml:"allow_write"`
	Provenance  string      `json:"provenance,omitempty" yaml:"provenance,omitempty"`
}

// Memory is a governed memory item with full provenance. Content is
// immutable after creation; removal is hard delete only.
type Memory struct {
	MemoryID  string       `json:"memory_id"`
	AgentID   string       `json:"agent_id"`
	Content   string       `json:"content"`
	Policy    MemoryPolicy `json:"policy"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	CreatedBy string       `json:"created_by"`
}

// NewMemory constructs a memory item owned by agentID with a fresh id,
// UTC creation timestamp and an expiry derived from the policy TTL.
func NewMemory(agentID, content string, policy MemoryPolicy) Memory {
	now := time.Now().UTC()
	return Memory{
		MemoryID:  NewID(),
		AgentID:   agentID,
		Content:   content,
		Policy:    policy,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(policy.TTLSeconds) * time.Second),
		CreatedBy: agentID,
	}
}

// Expired reports whether the memory is no longer visible at time now.
// Visibility ends exactly at ExpiresAt: a memory is visible while
// now < ExpiresAt and expired once now >= ExpiresAt.
func (m Memory) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// PolicyCheck is the runtime enforcement context passed into every read and
// query. It is constructed fresh per request and never cached, so a
// kill-switch or permission change takes effect on the very next call.
type PolicyCheck struct {
	AgentID       string  `json:"agent_id"`
	AllowedScopes []Scope `json:"allowed_scopes"`
	AllowRead     bool    `json:"allow_read"`
	AllowWrite    bool    `json:"allow_write"`
}

// NewPolicyCheck returns the default per-request check for an agent: its own
// scope plus the tenant scope, reads and writes permitted. Callers narrow it
// for restricted identities.
func NewPolicyCheck(agentID string) PolicyCheck {
	return PolicyCheck{
		AgentID:       agentID,
		AllowedScopes: []Scope{ScopeAgent, ScopeTenant},
		AllowRead:     true,
		AllowWrite:    true,
	}
}

// ScopeAllowed reports whether the check permits access to the given scope.
func (c PolicyCheck) ScopeAllowed(scope Scope) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuditRecord is an immutable audit log entry for a governance decision.
// After Append it must never be mutated or reordered; Sequence is the
// globally monotonic insertion number assigned by the ledger and Signature
// is a keyed hash over every other field.
type AuditRecord struct {
	AuditID       string            `json:"audit_id"`
	Sequence      uint64            `json:"sequence"`
	Timestamp     time.Time         `json:"timestamp"`
	AgentID       string            `json:"agent_id"`
	RequestID     string            `json:"request_id"`
	Operation     Operation         `json:"operation"`
	MemoryID      string            `json:"memory_id,omitempty"`
	PolicyVersion string            `json:"policy_version"`
	Decision      Decision          `json:"decision"`
	Reason        string            `json:"reason"`
	ActorID       string            `json:"actor_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Signature     string            `json:"signature"`
}

// NewAuditRecord constructs an unsigned audit record with a fresh id and UTC
// timestamp. Sequence and Signature are assigned by the ledger at append.
func NewAuditRecord(agentID string, op Operation, decision Decision, reason string) AuditRecord {
	return AuditRecord{
		AuditID:   NewID(),
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Operation: op,
		Decision:  decision,
		Reason:    reason,
		ActorID:   agentID,
	}
}

// AgentState is the kill-switch lifecycle state of an agent. A single enum
// keeps illegal combinations (disabled but writable) unrepresentable.
type AgentState string

const (
	// AgentEnabled permits reads and writes.
	AgentEnabled AgentState = "enabled"
	// AgentDisabled blocks every operation, reads included.
	AgentDisabled AgentState = "disabled"
	// AgentFrozen blocks writes but permits reads.
	AgentFrozen AgentState = "frozen"
)

// AgentStatus is the authoritative record of an agent's lifecycle state.
type AgentStatus struct {
	AgentID    string     `json:"agent_id"`
	State      AgentState `json:"state"`
	DisabledAt *time.Time `json:"disabled_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ActorID    string     `json:"actor_id,omitempty"`
}

// MemoryWrite derives the write posture implied by the state, for status
// surfaces: "allowed", "frozen" or "blocked".
func (s AgentStatus) MemoryWrite() string {
	switch s.State {
	case AgentDisabled:
		return "blocked"
	case AgentFrozen:
		return "frozen"
	default:
		return "allowed"
	}
}
