package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/internal/testutil"
)

func TestCalculateTTL(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	tests := []struct {
		name        string
		sensitivity core.Sensitivity
		scope       core.Scope
		want        int64
	}{
		{"pii agent", core.SensitivityPII, core.ScopeAgent, 86400},
		{"pii tenant", core.SensitivityPII, core.ScopeTenant, 604800},
		{"non-pii agent", core.SensitivityNonPII, core.ScopeAgent, 2592000},
		{"non-pii tenant", core.SensitivityNonPII, core.ScopeTenant, 7776000},
		{"unknown combination falls back", core.Sensitivity("secret"), core.ScopeAgent, 86400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.CalculateTTL(tt.sensitivity, tt.scope))
		})
	}
}

func TestEvaluateWrite(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	t.Run("valid draft with explicit ttl", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").WithTTL(3600).Build()

		decision, err := engine.EvaluateWrite(draft, "agent-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(3600), decision.EffectiveTTLSeconds)
	})

	t.Run("zero ttl resolved from retention table", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").
			WithSensitivity(core.SensitivityPII).
			WithScope(core.ScopeAgent).
			WithTTL(0).
			Build()

		decision, err := engine.EvaluateWrite(draft, "agent-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(86400), decision.EffectiveTTLSeconds)
	})

	t.Run("ttl above ceiling denied", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").WithTTL(7776001).Build()

		decision, err := engine.EvaluateWrite(draft, "agent-1")
		assert.False(t, decision.Allowed)
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "exceeds maximum")
	})

	t.Run("negative ttl denied", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").Build()
		draft.Policy.TTLSeconds = -1

		_, err := engine.EvaluateWrite(draft, "agent-1")
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("short term never persisted", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").WithType(core.MemoryTypeShortTerm).Build()

		_, err := engine.EvaluateWrite(draft, "agent-1")
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "short_term")
	})

	t.Run("cross agent write denied", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").Build()

		_, err := engine.EvaluateWrite(draft, "agent-2")
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "ownership")
	})

	t.Run("missing agent id denied", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").Build()

		_, err := engine.EvaluateWrite(draft, "")
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "agent_id_required", invalid.Reason)
	})

	t.Run("unknown enum values denied", func(t *testing.T) {
		for _, mutate := range []func(*core.Memory){
			func(m *core.Memory) { m.Policy.MemoryType = "working" },
			func(m *core.Memory) { m.Policy.Sensitivity = "secret" },
			func(m *core.Memory) { m.Policy.Scope = "global" },
		} {
			draft := testutil.NewMemory("agent-1").Build()
			mutate(&draft)

			_, err := engine.EvaluateWrite(draft, "agent-1")
			var invalid *core.InvalidPolicyError
			require.ErrorAs(t, err, &invalid)
		}
	})

	t.Run("write not allowed by policy", func(t *testing.T) {
		draft := testutil.NewMemory("agent-1").Build()
		draft.Policy.AllowWrite = false

		_, err := engine.EvaluateWrite(draft, "agent-1")
		var invalid *core.InvalidPolicyError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "write_not_allowed", invalid.Reason)
	})
}

func TestEvaluateRead(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	now := time.Now().UTC()

	t.Run("owner reads own memory", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").Build()

		decision, err := engine.EvaluateRead(m, testutil.NewCheck("agent-1").Build(), now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("agent scope is isolated across agents", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").WithScope(core.ScopeAgent).Build()

		decision, err := engine.EvaluateRead(m, testutil.NewCheck("agent-2").Build(), now)
		assert.False(t, decision.Allowed)
		var violation *core.IsolationViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, "agent-2", violation.AgentID)
		assert.Equal(t, m.MemoryID, violation.MemoryID)
	})

	t.Run("tenant scope shared across agents", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").WithScope(core.ScopeTenant).Build()

		decision, err := engine.EvaluateRead(m, testutil.NewCheck("agent-2").Build(), now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("expired exactly at the boundary", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").WithTTL(60).Build()

		// Visible one instant before expiry, gone at the boundary itself.
		_, err := engine.EvaluateRead(m, testutil.NewCheck("agent-1").Build(), m.ExpiresAt.Add(-time.Nanosecond))
		require.NoError(t, err)

		decision, err := engine.EvaluateRead(m, testutil.NewCheck("agent-1").Build(), m.ExpiresAt)
		assert.False(t, decision.Allowed)
		var enforcement *core.PolicyEnforcementError
		require.ErrorAs(t, err, &enforcement)
		assert.Equal(t, "memory_expired", enforcement.Reason)
	})

	t.Run("scope outside the check", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").WithScope(core.ScopeTenant).Build()
		check := testutil.NewCheck("agent-1").Scopes(core.ScopeAgent).Build()

		_, err := engine.EvaluateRead(m, check, now)
		var enforcement *core.PolicyEnforcementError
		require.ErrorAs(t, err, &enforcement)
		assert.Equal(t, "scope_not_allowed", enforcement.Reason)
	})

	t.Run("check forbids reads", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").Build()
		check := testutil.NewCheck("agent-1").ReadDenied().Build()

		_, err := engine.EvaluateRead(m, check, now)
		var enforcement *core.PolicyEnforcementError
		require.ErrorAs(t, err, &enforcement)
		assert.Equal(t, "read_not_allowed", enforcement.Reason)
	})

	t.Run("memory policy forbids reads", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").ReadDenied().Build()

		_, err := engine.EvaluateRead(m, testutil.NewCheck("agent-1").Build(), now)
		var enforcement *core.PolicyEnforcementError
		require.ErrorAs(t, err, &enforcement)
		assert.Equal(t, "read_not_allowed", enforcement.Reason)
	})

	t.Run("deterministic for identical inputs", func(t *testing.T) {
		m := testutil.NewMemory("agent-1").Build()
		check := testutil.NewCheck("agent-1").Build()

		first, err1 := engine.EvaluateRead(m, check, now)
		second, err2 := engine.EvaluateRead(m, check, now)
		assert.Equal(t, first, second)
		assert.Equal(t, err1, err2)
	})
}

func TestValidatePolicy(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	valid := core.MemoryPolicy{
		MemoryType:  core.MemoryTypeLongTerm,
		TTLSeconds:  3600,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
		AllowRead:   true,
		AllowWrite:  true,
	}
	require.NoError(t, engine.ValidatePolicy(valid))

	zeroTTL := valid
	zeroTTL.TTLSeconds = 0
	assert.Error(t, engine.ValidatePolicy(zeroTTL))

	overCeiling := valid
	overCeiling.TTLSeconds = 7776001
	assert.Error(t, engine.ValidatePolicy(overCeiling))
}
