package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/internal/testutil"
	"github.com/memgov/memgov/killswitch"
	"github.com/memgov/memgov/policy"
	"github.com/memgov/memgov/storage"
)

type fixture struct {
	builder *Builder
	kill    *killswitch.KillSwitch
	adapter *storage.InMemoryAdapter
	ledger  *audit.InMemoryLedger
}

func newFixture(t *testing.T, optFns ...func(o *Options)) *fixture {
	t.Helper()
	signer, err := audit.NewRandomHMACSigner()
	require.NoError(t, err)
	ledger := audit.NewInMemoryLedger(signer)
	engine := policy.NewEngine(policy.DefaultConfig())
	adapter := storage.NewInMemoryAdapter(engine, ledger)
	kill := killswitch.New(killswitch.NewInMemoryStateStore(), ledger)
	return &fixture{
		builder: NewBuilder(adapter, kill, engine, ledger, optFns...),
		kill:    kill,
		adapter: adapter,
		ledger:  ledger,
	}
}

func (f *fixture) seed(t *testing.T, b *testutil.MemoryBuilder) core.Memory {
	t.Helper()
	m := b.Build()
	_, err := f.adapter.Write(context.Background(), m, core.WriteMeta{})
	require.NoError(t, err)
	return m
}

func TestBuildContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m := f.seed(t, testutil.NewMemory("agent-1").WithContent("prefers concise answers"))

	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1"})
	require.NoError(t, err)

	require.Len(t, got.Memories, 1)
	assert.Equal(t, m.MemoryID, got.Memories[0].MemoryID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.NotEmpty(t, got.RequestID)
	assert.Equal(t, 1, got.Metadata.ReturnedCount)
	assert.Equal(t, estimateTokens(m.Content), got.Metadata.TokenCount)
	assert.NotEmpty(t, got.Metadata.AuditID)
	assert.Equal(t, "1.0.0", got.Metadata.PolicyVersion)
}

func TestBuildContextRequiresAgentID(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.BuildContext(context.Background(), core.ContextRequest{})
	var enforcement *core.PolicyEnforcementError
	require.ErrorAs(t, err, &enforcement)
	assert.Equal(t, "agent_id_required", enforcement.Reason)
}

func TestBuildContextDisabledAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, testutil.NewMemory("agent-1"))

	_, err := f.kill.Disable(ctx, "agent-1", "incident", "operator-1")
	require.NoError(t, err)

	_, err = f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1"})
	var disabled *core.AgentDisabledError
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, "agent-1", disabled.AgentID)

	// The denial left its own record.
	records, err := f.adapter.GetAuditLog(ctx, core.AuditFilters{AgentID: "agent-1", Operation: core.OperationRead})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, core.DecisionDenied, last.Decision)
	assert.Equal(t, "agent_disabled", last.Reason)
}

func TestBuildContextFrozenAgentStillReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, testutil.NewMemory("agent-1"))

	_, err := f.kill.FreezeWrites(ctx, "agent-1", "review", "operator-1")
	require.NoError(t, err)

	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, got.Memories, 1)
}

func TestBuildContextFiltering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	visible := f.seed(t, testutil.NewMemory("agent-1").WithContent("mine"))
	f.seed(t, testutil.NewMemory("agent-2").WithScope(core.ScopeAgent).WithContent("not mine"))
	f.seed(t, testutil.NewMemory("agent-1").
		WithTTL(60).
		WithCreatedAt(time.Now().UTC().Add(-2*time.Minute)).
		WithContent("expired"))
	shared := f.seed(t, testutil.NewMemory("agent-2").WithScope(core.ScopeTenant).WithContent("tenant shared"))

	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1"})
	require.NoError(t, err)

	require.Len(t, got.Memories, 2)
	ids := []string{got.Memories[0].MemoryID, got.Memories[1].MemoryID}
	assert.Contains(t, ids, visible.MemoryID)
	assert.Contains(t, ids, shared.MemoryID)

	assert.Equal(t, 4, got.Metadata.TotalExamined)
	assert.Equal(t, 2, got.Metadata.FilteredCount)
	assert.Equal(t, 1, got.Metadata.Stats.ScopeDenied)
	assert.Equal(t, 1, got.Metadata.Stats.Expired)
}

func TestBuildContextItemBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.seed(t, testutil.NewMemory("agent-1"))
	}

	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1", MaxItems: 2})
	require.NoError(t, err)
	assert.Len(t, got.Memories, 2)
	assert.Equal(t, 3, got.Metadata.Stats.BudgetExcluded)
}

func TestBuildContextTokenBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newest := f.seed(t, testutil.NewMemory("agent-1").
		WithContent("short note").
		WithCreatedAt(time.Now().UTC().Add(-time.Minute)))
	f.seed(t, testutil.NewMemory("agent-1").
		WithContent(strings.Repeat("word ", 200)).
		WithCreatedAt(time.Now().UTC().Add(-30 * time.Minute)))

	budget := estimateTokens(newest.Content) + 5
	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1", MaxTokens: budget})
	require.NoError(t, err)

	// The newest fits, the large older one is excluded whole rather than
	// truncated.
	require.Len(t, got.Memories, 1)
	assert.Equal(t, newest.MemoryID, got.Memories[0].MemoryID)
	assert.Equal(t, 1, got.Metadata.Stats.BudgetExcluded)
	assert.LessOrEqual(t, got.Metadata.TokenCount, budget)
}

func TestBuildContextBudgetCutoffIsPrefix(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	now := time.Now().UTC()
	large := strings.Repeat("word ", 100)
	f.seed(t, testutil.NewMemory("agent-1").WithContent(large).WithCreatedAt(now.Add(-time.Minute)))
	f.seed(t, testutil.NewMemory("agent-1").WithContent("small one").WithCreatedAt(now.Add(-2*time.Minute)))
	f.seed(t, testutil.NewMemory("agent-1").WithContent(large).WithCreatedAt(now.Add(-3*time.Minute)))

	// The newest memory already exceeds the budget, so the cutoff is at
	// position zero. The small older memory fits the budget but sits
	// beyond the cutoff and must not leapfrog it.
	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1", MaxTokens: 50})
	require.NoError(t, err)
	assert.Empty(t, got.Memories)
	assert.Equal(t, 3, got.Metadata.Stats.BudgetExcluded)
	assert.Zero(t, got.Metadata.TokenCount)
}

func TestBuildContextSummaryRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, testutil.NewMemory("agent-1"))
	f.seed(t, testutil.NewMemory("agent-2").WithScope(core.ScopeAgent))

	got, err := f.builder.BuildContext(ctx, core.ContextRequest{AgentID: "agent-1", RequestID: "req-1"})
	require.NoError(t, err)

	res, err := f.ledger.Query(ctx, core.AuditFilters{AgentID: "agent-1", Operation: core.OperationRead})
	require.NoError(t, err)

	var summaries []core.AuditRecord
	for _, r := range res.Records {
		if r.RequestID == "req-1" {
			summaries = append(summaries, r)
		}
	}
	require.Len(t, summaries, 1)
	summary := summaries[0]
	assert.Equal(t, got.Metadata.AuditID, summary.AuditID)
	assert.Equal(t, core.DecisionFiltered, summary.Decision)
	assert.Equal(t, "2", summary.Metadata["total_examined"])
	assert.Equal(t, "1", summary.Metadata["returned_count"])
	assert.NotEmpty(t, summary.Metadata["storage_audit_id"])
}

func TestRecordMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "user timezone is UTC+2",
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityPII,
		Scope:       core.ScopeAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, core.DecisionAllowed, rec.Decision)
	// No explicit TTL: the pii/agent table entry applies.
	assert.Equal(t, "86400", rec.Metadata["ttl_seconds"])
	assert.Equal(t, 1, f.adapter.Len())

	got, _, err := f.adapter.Read(ctx, rec.MemoryID, "agent-1", core.NewPolicyCheck("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(86400), got.Policy.TTLSeconds)
	assert.Equal(t, got.CreatedAt.Add(86400*time.Second), got.ExpiresAt)
}

func TestRecordMemoryDisabledAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.kill.Disable(ctx, "agent-1", "incident", "operator-1")
	require.NoError(t, err)

	rec, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "should not land",
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
	})
	var disabled *core.AgentDisabledError
	require.ErrorAs(t, err, &disabled)
	assert.Equal(t, core.DecisionDenied, rec.Decision)
	assert.Equal(t, 0, f.adapter.Len())
}

func TestRecordMemoryFrozenAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.kill.FreezeWrites(ctx, "agent-1", "review", "operator-1")
	require.NoError(t, err)

	rec, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "should not land",
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
	})
	var enforcement *core.PolicyEnforcementError
	require.ErrorAs(t, err, &enforcement)
	assert.Equal(t, "agent_frozen_write_denied", enforcement.Reason)
	assert.Equal(t, core.DecisionDenied, rec.Decision)
	assert.Equal(t, 0, f.adapter.Len())
}

func TestRecordMemoryPolicyDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "ephemeral",
		MemoryType:  core.MemoryTypeShortTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
	})
	var invalid *core.InvalidPolicyError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, f.adapter.Len())

	// The denial is audited.
	records, err := f.adapter.GetAuditLog(ctx, core.AuditFilters{AgentID: "agent-1", Operation: core.OperationWrite})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, core.DecisionDenied, records[0].Decision)
}

func TestRecordMemoryExplicitTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "note",
		MemoryType:  core.MemoryTypeEpisodic,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeTenant,
		TTLSeconds:  3600,
	})
	require.NoError(t, err)
	assert.Equal(t, "3600", rec.Metadata["ttl_seconds"])
}

func TestRecordMemoryTTLCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "forever",
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
		TTLSeconds:  7776001,
	})
	var invalid *core.InvalidPolicyError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, "exceeds maximum")
}

func TestEnableRestoresWritePath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.kill.Disable(ctx, "agent-1", "incident", "operator-1")
	require.NoError(t, err)
	_, err = f.kill.Enable(ctx, "agent-1", "operator-1")
	require.NoError(t, err)

	_, err = f.builder.RecordMemory(ctx, WriteRequest{
		AgentID:     "agent-1",
		Content:     "back online",
		MemoryType:  core.MemoryTypeLongTerm,
		Sensitivity: core.SensitivityNonPII,
		Scope:       core.ScopeAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.adapter.Len())
}
