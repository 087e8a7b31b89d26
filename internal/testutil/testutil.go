// Package testutil provides builders for governance test fixtures.
package testutil

import (
	"time"

	"github.com/memgov/memgov/core"
)

// MemoryBuilder builds memory fixtures with sensible defaults.
type MemoryBuilder struct {
	m core.Memory
}

// NewMemory returns a builder for a readable long_term/non_pii/agent memory
// owned by agentID, created now and valid for one hour.
func NewMemory(agentID string) *MemoryBuilder {
	now := time.Now().UTC()
	return &MemoryBuilder{m: core.Memory{
		MemoryID: core.NewID(),
		AgentID:  agentID,
		Content:  "fixture content",
		Policy: core.MemoryPolicy{
			MemoryType:  core.MemoryTypeLongTerm,
			TTLSeconds:  3600,
			Sensitivity: core.SensitivityNonPII,
			Scope:       core.ScopeAgent,
			AllowRead:   true,
			AllowWrite:  true,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		CreatedBy: agentID,
	}}
}

// WithContent sets the memory content.
func (b *MemoryBuilder) WithContent(content string) *MemoryBuilder {
	b.m.Content = content
	return b
}

// WithType sets the memory type.
func (b *MemoryBuilder) WithType(t core.MemoryType) *MemoryBuilder {
	b.m.Policy.MemoryType = t
	return b
}

// WithSensitivity sets the sensitivity class.
func (b *MemoryBuilder) WithSensitivity(s core.Sensitivity) *MemoryBuilder {
	b.m.Policy.Sensitivity = s
	return b
}

// WithScope sets the visibility scope.
func (b *MemoryBuilder) WithScope(s core.Scope) *MemoryBuilder {
	b.m.Policy.Scope = s
	return b
}

// WithTTL sets the policy TTL and recomputes the expiry from CreatedAt.
func (b *MemoryBuilder) WithTTL(seconds int64) *MemoryBuilder {
	b.m.Policy.TTLSeconds = seconds
	b.m.ExpiresAt = b.m.CreatedAt.Add(time.Duration(seconds) * time.Second)
	return b
}

// WithCreatedAt backdates the memory, shifting the expiry with it.
func (b *MemoryBuilder) WithCreatedAt(at time.Time) *MemoryBuilder {
	ttl := time.Duration(b.m.Policy.TTLSeconds) * time.Second
	b.m.CreatedAt = at
	b.m.ExpiresAt = at.Add(ttl)
	return b
}

// ReadDenied clears the read permission on the memory policy.
func (b *MemoryBuilder) ReadDenied() *MemoryBuilder {
	b.m.Policy.AllowRead = false
	return b
}

// Build returns the assembled memory.
func (b *MemoryBuilder) Build() core.Memory {
	return b.m
}

// CheckBuilder builds policy checks for read and query tests.
type CheckBuilder struct {
	c core.PolicyCheck
}

// NewCheck returns a builder seeded with the default check for agentID.
func NewCheck(agentID string) *CheckBuilder {
	return &CheckBuilder{c: core.NewPolicyCheck(agentID)}
}

// Scopes replaces the allowed scopes.
func (b *CheckBuilder) Scopes(scopes ...core.Scope) *CheckBuilder {
	b.c.AllowedScopes = scopes
	return b
}

// ReadDenied clears the read permission on the check.
func (b *CheckBuilder) ReadDenied() *CheckBuilder {
	b.c.AllowRead = false
	return b
}

// Build returns the assembled check.
func (b *CheckBuilder) Build() core.PolicyCheck {
	return b.c
}
