package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTypeValid(t *testing.T) {
	assert.True(t, MemoryTypeShortTerm.Valid())
	assert.True(t, MemoryTypeLongTerm.Valid())
	assert.True(t, MemoryTypeEpisodic.Valid())
	assert.False(t, MemoryType("working").Valid())
	assert.False(t, MemoryType("").Valid())
}

func TestMemoryTypePersistent(t *testing.T) {
	assert.False(t, MemoryTypeShortTerm.Persistent())
	assert.True(t, MemoryTypeLongTerm.Persistent())
	assert.True(t, MemoryTypeEpisodic.Persistent())
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, SensitivityPII.Valid())
	assert.True(t, SensitivityNonPII.Valid())
	assert.False(t, Sensitivity("secret").Valid())

	assert.True(t, ScopeAgent.Valid())
	assert.True(t, ScopeTenant.Valid())
	assert.False(t, Scope("global").Valid())
}

func TestNewMemory(t *testing.T) {
	policy := MemoryPolicy{
		MemoryType:  MemoryTypeLongTerm,
		TTLSeconds:  3600,
		Sensitivity: SensitivityNonPII,
		Scope:       ScopeAgent,
		AllowRead:   true,
		AllowWrite:  true,
	}
	m := NewMemory("agent-1", "content", policy)

	assert.NotEmpty(t, m.MemoryID)
	assert.Equal(t, "agent-1", m.AgentID)
	assert.Equal(t, "agent-1", m.CreatedBy)
	assert.Equal(t, m.CreatedAt.Add(time.Hour), m.ExpiresAt)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())
}

func TestMemoryExpiredBoundary(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Memory{CreatedAt: created, ExpiresAt: created.Add(time.Minute)}

	assert.False(t, m.Expired(m.ExpiresAt.Add(-time.Nanosecond)))
	assert.True(t, m.Expired(m.ExpiresAt))
	assert.True(t, m.Expired(m.ExpiresAt.Add(time.Second)))
}

func TestNewPolicyCheck(t *testing.T) {
	check := NewPolicyCheck("agent-1")

	assert.Equal(t, "agent-1", check.AgentID)
	assert.True(t, check.AllowRead)
	assert.True(t, check.AllowWrite)
	assert.True(t, check.ScopeAllowed(ScopeAgent))
	assert.True(t, check.ScopeAllowed(ScopeTenant))
	assert.False(t, check.ScopeAllowed(Scope("global")))
}

func TestNewAuditRecord(t *testing.T) {
	rec := NewAuditRecord("agent-1", OperationWrite, DecisionAllowed, "ok")

	assert.NotEmpty(t, rec.AuditID)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, "agent-1", rec.AgentID)
	assert.Equal(t, "agent-1", rec.ActorID)
	assert.Zero(t, rec.Sequence)
	assert.Empty(t, rec.Signature)
}

func TestAgentStatusMemoryWrite(t *testing.T) {
	assert.Equal(t, "allowed", AgentStatus{State: AgentEnabled}.MemoryWrite())
	assert.Equal(t, "frozen", AgentStatus{State: AgentFrozen}.MemoryWrite())
	assert.Equal(t, "blocked", AgentStatus{State: AgentDisabled}.MemoryWrite())
	assert.Equal(t, "allowed", AgentStatus{}.MemoryWrite())
}

func TestQueryFiltersMatchesType(t *testing.T) {
	assert.True(t, QueryFilters{}.MatchesType(MemoryTypeLongTerm))

	f := QueryFilters{MemoryTypes: []MemoryType{MemoryTypeLongTerm, MemoryTypeEpisodic}}
	assert.True(t, f.MatchesType(MemoryTypeEpisodic))
	assert.False(t, f.MatchesType(MemoryTypeShortTerm))
}

func TestFilterStatsTotal(t *testing.T) {
	stats := FilterStats{
		Examined:       10,
		FilterMismatch: 1,
		Expired:        2,
		ScopeDenied:    3,
		ReadDenied:     1,
		BudgetExcluded: 1,
	}
	assert.Equal(t, 8, stats.FilteredTotal())
	assert.Zero(t, FilterStats{Examined: 5}.FilteredTotal())
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		require.False(t, seen[id])
		seen[id] = true
	}
}
