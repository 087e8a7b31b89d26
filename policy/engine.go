package policy

import (
	"fmt"
	"time"

	"github.com/memgov/memgov/core"
)

// Decision is the outcome of a policy evaluation. EffectiveTTLSeconds is
// the retention actually applied: the draft's explicit TTL when one was
// supplied, otherwise the table lookup for (sensitivity, scope).
type Decision struct {
	Allowed             bool
	Reason              string
	EffectiveTTLSeconds int64
}

// Engine evaluates governance rules. It is stateless and side-effect free:
// the same (memory, check, now) always yields the same decision, so it is
// safe to call from any number of concurrent request handlers.
type Engine struct {
	cfg Config
}

// NewEngine constructs an engine over the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the configuration the engine evaluates against.
func (e *Engine) Config() Config { return e.cfg }

// Version returns the policy version stamped on decisions.
func (e *Engine) Version() string {
	if e.cfg.Version != "" {
		return e.cfg.Version
	}
	return Version
}

// CalculateTTL is the pure retention lookup keyed by (sensitivity, scope).
func (e *Engine) CalculateTTL(sensitivity core.Sensitivity, scope core.Scope) int64 {
	return e.cfg.TTLFor(sensitivity, scope)
}

// EvaluateWrite validates a memory draft against the write rules. The
// returned error, if any, is an *core.InvalidPolicyError describing the
// first violated constraint. On success the decision carries the effective
// TTL the adapter must persist.
func (e *Engine) EvaluateWrite(draft core.Memory, requestingAgent string) (Decision, error) {
	p := draft.Policy

	if requestingAgent == "" || draft.AgentID == "" {
		return e.deny("agent_id_required")
	}
	if draft.AgentID != requestingAgent {
		return e.deny(fmt.Sprintf("agent_ownership_violation: memory owned by %s", draft.AgentID))
	}
	if !p.MemoryType.Valid() {
		return e.deny(fmt.Sprintf("unknown memory_type %q", p.MemoryType))
	}
	if !p.MemoryType.Persistent() {
		return e.deny("short_term memory is request-scoped and never persisted")
	}
	if !p.Sensitivity.Valid() {
		return e.deny(fmt.Sprintf("unknown sensitivity %q", p.Sensitivity))
	}
	if !p.Scope.Valid() {
		return e.deny(fmt.Sprintf("unknown scope %q", p.Scope))
	}
	if p.TTLSeconds < 0 {
		return e.deny(fmt.Sprintf("ttl_seconds must be positive, got %d", p.TTLSeconds))
	}
	if !p.AllowWrite {
		return e.deny("write_not_allowed")
	}

	ttl := p.TTLSeconds
	if ttl == 0 {
		ttl = e.cfg.TTLFor(p.Sensitivity, p.Scope)
	}
	if e.cfg.MaxTTL > 0 && ttl > e.cfg.MaxTTL {
		return e.deny(fmt.Sprintf("ttl %d exceeds maximum %d", ttl, e.cfg.MaxTTL))
	}

	return Decision{Allowed: true, Reason: "all_policy_checks_passed", EffectiveTTLSeconds: ttl}, nil
}

// EvaluateRead decides whether a stored memory is visible under the given
// runtime check at time now. The returned error, if any, is a
// *core.PolicyEnforcementError or *core.IsolationViolationError.
func (e *Engine) EvaluateRead(memory core.Memory, check core.PolicyCheck, now time.Time) (Decision, error) {
	if memory.Expired(now) {
		return Decision{Reason: "memory_expired"}, &core.PolicyEnforcementError{Reason: "memory_expired"}
	}
	if !check.ScopeAllowed(memory.Policy.Scope) {
		return Decision{Reason: "scope_not_allowed"}, &core.PolicyEnforcementError{Reason: "scope_not_allowed"}
	}
	if !check.AllowRead {
		return Decision{Reason: "read_not_allowed"}, &core.PolicyEnforcementError{Reason: "read_not_allowed"}
	}
	// Strict isolation: agent-scoped memory is invisible across agents.
	// Tenant-scoped memory is shared within the tenant.
	if memory.Policy.Scope == core.ScopeAgent && memory.AgentID != check.AgentID {
		return Decision{Reason: "isolation"}, &core.IsolationViolationError{AgentID: check.AgentID, MemoryID: memory.MemoryID}
	}
	if !memory.Policy.AllowRead {
		return Decision{Reason: "read_not_allowed"}, &core.PolicyEnforcementError{Reason: "read_not_allowed"}
	}
	return Decision{Allowed: true, Reason: "all_policy_checks_passed", EffectiveTTLSeconds: memory.Policy.TTLSeconds}, nil
}

// ValidatePolicy checks a policy contract in isolation, without a draft or
// requesting agent. Used by callers that build policies ahead of a write.
func (e *Engine) ValidatePolicy(p core.MemoryPolicy) error {
	if !p.MemoryType.Valid() {
		return &core.InvalidPolicyError{Reason: fmt.Sprintf("unknown memory_type %q", p.MemoryType)}
	}
	if !p.Sensitivity.Valid() {
		return &core.InvalidPolicyError{Reason: fmt.Sprintf("unknown sensitivity %q", p.Sensitivity)}
	}
	if !p.Scope.Valid() {
		return &core.InvalidPolicyError{Reason: fmt.Sprintf("unknown scope %q", p.Scope)}
	}
	if p.TTLSeconds <= 0 {
		return &core.InvalidPolicyError{Reason: fmt.Sprintf("ttl_seconds must be positive, got %d", p.TTLSeconds)}
	}
	if e.cfg.MaxTTL > 0 && p.TTLSeconds > e.cfg.MaxTTL {
		return &core.InvalidPolicyError{Reason: fmt.Sprintf("ttl %d exceeds maximum %d", p.TTLSeconds, e.cfg.MaxTTL)}
	}
	return nil
}

func (e *Engine) deny(reason string) (Decision, error) {
	return Decision{Reason: reason}, &core.InvalidPolicyError{Reason: reason}
}
