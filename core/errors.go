package core

import "fmt"

// Governance denials are expected control flow, not bugs. Every error type
// below is paired with a durable audit record at the decision point that
// produced it; callers distinguish them with errors.As.

// InvalidPolicyError reports a malformed or out-of-range policy at write
// time. It is returned synchronously and never retried automatically.
type InvalidPolicyError struct {
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid policy: %s", e.Reason)
}

// PolicyEnforcementError reports a read or write denied by an active,
// well-formed policy: expired TTL, scope violation, frozen writes.
type PolicyEnforcementError struct {
	Reason string
}

func (e *PolicyEnforcementError) Error() string {
	return fmt.Sprintf("policy enforcement: %s", e.Reason)
}

// AgentDisabledError signals the agent is stopped by the kill switch.
// Distinct from PolicyEnforcementError so callers can tell "permanently
// stopped" from "temporarily blocked".
type AgentDisabledError struct {
	AgentID string
	Reason  string
}

func (e *AgentDisabledError) Error() string {
	return fmt.Sprintf("agent %s disabled: %s", e.AgentID, e.Reason)
}

// MemoryNotFoundError reports a read or delete whose target is absent or
// already deleted. Deletes of absent ids fail with this error rather than
// silently succeeding, because compliance requires knowing a delete was a
// no-op.
type MemoryNotFoundError struct {
	MemoryID string
}

func (e *MemoryNotFoundError) Error() string {
	return fmt.Sprintf("memory %s not found", e.MemoryID)
}

// IsolationViolationError reports an attempted cross-scope access. Always
// audited with decision=denied, reason=isolation.
type IsolationViolationError struct {
	AgentID  string
	MemoryID string
}

func (e *IsolationViolationError) Error() string {
	return fmt.Sprintf("isolation violation: agent %s may not access memory %s", e.AgentID, e.MemoryID)
}

// AuditIntegrityError reports a signature mismatch on a stored audit
// record. The record is untrusted; the error is surfaced, never ignored.
type AuditIntegrityError struct {
	AuditID string
}

func (e *AuditIntegrityError) Error() string {
	return fmt.Sprintf("audit record %s failed signature verification", e.AuditID)
}

// StorageError wraps a backend I/O failure. The governed operation that
// depended on it is reported as failed, never "succeeded silently".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
