package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/memgov/memgov/core"
)

// canonicalRecord fixes the field order and timestamp encoding of the
// signed payload. Everything except the signature itself is covered,
// sequence included, so neither content nor position can be altered without
// invalidating the signature. Metadata is a map; encoding/json emits map
// keys sorted, which keeps the serialization canonical.
type canonicalRecord struct {
	AuditID       string            `json:"audit_id"`
	Sequence      uint64            `json:"sequence"`
	Timestamp     string            `json:"timestamp"`
	AgentID       string            `json:"agent_id"`
	RequestID     string            `json:"request_id"`
	Operation     core.Operation    `json:"operation"`
	MemoryID      string            `json:"memory_id"`
	PolicyVersion string            `json:"policy_version"`
	Decision      core.Decision     `json:"decision"`
	Reason        string            `json:"reason"`
	ActorID       string            `json:"actor_id"`
	Metadata      map[string]string `json:"metadata"`
}

// CanonicalPayload serializes the record for signing. The timestamp is
// rendered in RFC 3339 with nanoseconds in UTC so the payload survives a
// round trip through any store that preserves the instant.
func CanonicalPayload(r core.AuditRecord) ([]byte, error) {
	payload, err := json.Marshal(canonicalRecord{
		AuditID:       r.AuditID,
		Sequence:      r.Sequence,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:       r.AgentID,
		RequestID:     r.RequestID,
		Operation:     r.Operation,
		MemoryID:      r.MemoryID,
		PolicyVersion: r.PolicyVersion,
		Decision:      r.Decision,
		Reason:        r.Reason,
		ActorID:       r.ActorID,
		Metadata:      r.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit record %s: %w", r.AuditID, err)
	}
	return payload, nil
}
