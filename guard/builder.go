package guard

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/killswitch"
	"github.com/memgov/memgov/logging"
	"github.com/memgov/memgov/policy"
)

// Builder is the governed context builder. It orchestrates the kill
// switch, the policy engine and the storage adapter to produce the
// agent-visible slice of memory, and it owns the governed write path.
//
// Decisions are never cached: every call re-checks agent state and
// re-evaluates policy, so a disable or an expiry takes effect on the very
// next request.
type Builder struct {
	storage core.StorageAdapter
	kill    *killswitch.KillSwitch
	engine  *policy.Engine
	ledger  audit.Ledger
	logger  logging.Logger
	tracer  oteltrace.Tracer

	maxTokens int
	maxItems  int
}

// Options configures a Builder.
type Options struct {
	// Logger used for operator telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
	// Tracer enables OpenTelemetry spans around the pipeline. Nil
	// disables tracing.
	Tracer oteltrace.Tracer
	// MaxTokens is the default token budget when a request leaves it
	// unset. Defaults to the policy config value.
	MaxTokens int
	// MaxItems is the default item budget when a request leaves it
	// unset. Defaults to the policy config value.
	MaxItems int
}

// NewBuilder wires the guard over its collaborators.
func NewBuilder(storage core.StorageAdapter, kill *killswitch.KillSwitch, engine *policy.Engine, ledger audit.Ledger, optFns ...func(o *Options)) *Builder {
	cfg := engine.Config()
	opts := Options{
		Logger:    logging.NoOpLogger{},
		MaxTokens: cfg.MaxTokens,
		MaxItems:  cfg.MaxItems,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{
		storage:   storage,
		kill:      kill,
		engine:    engine,
		ledger:    ledger,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		maxTokens: opts.MaxTokens,
		maxItems:  opts.MaxItems,
	}
}

// BuildContext runs the ordered enforcement pipeline and returns the
// governed context. Disabled agents fail with *core.AgentDisabledError;
// frozen agents may still read.
func (b *Builder) BuildContext(ctx context.Context, req core.ContextRequest) (core.GovernedContext, error) {
	ctx, span := b.startSpan(ctx, "memgov.guard.build_context", req.AgentID)
	defer b.endSpan(span)

	// Step 1: agent identity validation.
	if req.AgentID == "" {
		return core.GovernedContext{}, &core.PolicyEnforcementError{Reason: "agent_id_required"}
	}
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = b.maxTokens
	}
	if req.MaxItems <= 0 {
		req.MaxItems = b.maxItems
	}

	// Step 2: kill switch. Re-read on every call, never cached.
	allowed, reason, err := b.kill.CheckAllowed(ctx, req.AgentID, killswitch.CheckRead)
	if err != nil {
		return core.GovernedContext{}, fmt.Errorf("kill switch check: %w", err)
	}
	if !allowed {
		if _, aerr := b.auditDenied(ctx, req, reason); aerr != nil {
			return core.GovernedContext{}, aerr
		}
		return core.GovernedContext{}, &core.AgentDisabledError{AgentID: req.AgentID, Reason: reason}
	}

	// Steps 3-6: type filter, TTL, sensitivity and scope isolation run
	// inside the adapter, before any data crosses its boundary.
	check := core.NewPolicyCheck(req.AgentID)
	result, err := b.storage.Query(ctx, req.Filters, req.AgentID, check)
	if err != nil {
		return core.GovernedContext{}, err
	}

	// Step 7: token budget. The included set is a strict prefix of the
	// adapter's stable most-recent-first order: the first item that would
	// exceed either budget is the cutoff, and everything from there on is
	// excluded whole and counted, never truncated mid-content. An older
	// item that happens to fit never leapfrogs the cutoff.
	stats := result.Stats
	memories := make([]core.Memory, 0, min(len(result.Memories), req.MaxItems))
	tokenCount := 0
	for i, m := range result.Memories {
		cost := estimateTokens(m.Content)
		if len(memories) >= req.MaxItems || tokenCount+cost > req.MaxTokens {
			stats.BudgetExcluded += len(result.Memories) - i
			break
		}
		memories = append(memories, m)
		tokenCount += cost
	}

	// Step 8: exactly one summarizing audit record for the build.
	decision := core.DecisionAllowed
	if stats.FilteredTotal() > 0 {
		decision = core.DecisionFiltered
	}
	rec := core.NewAuditRecord(req.AgentID, core.OperationRead, decision, "context_built")
	rec.RequestID = req.RequestID
	rec.PolicyVersion = b.engine.Version()
	rec.Metadata = map[string]string{
		"total_examined":   fmt.Sprintf("%d", stats.Examined),
		"filtered_count":   fmt.Sprintf("%d", stats.FilteredTotal()),
		"expired_count":    fmt.Sprintf("%d", stats.Expired),
		"scope_denied":     fmt.Sprintf("%d", stats.ScopeDenied),
		"read_denied":      fmt.Sprintf("%d", stats.ReadDenied),
		"budget_excluded":  fmt.Sprintf("%d", stats.BudgetExcluded),
		"returned_count":   fmt.Sprintf("%d", len(memories)),
		"token_count":      fmt.Sprintf("%d", tokenCount),
		"storage_audit_id": result.Audit.AuditID,
	}
	signed, err := b.ledger.Append(ctx, rec)
	if err != nil {
		return core.GovernedContext{}, fmt.Errorf("audit context build: %w", err)
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int("memgov.context.returned", len(memories)),
			attribute.Int("memgov.context.filtered", stats.FilteredTotal()),
			attribute.Int("memgov.context.tokens", tokenCount),
		)
	}
	b.logger.Debug("context built",
		"agent_id", req.AgentID,
		"request_id", req.RequestID,
		"returned", len(memories),
		"filtered", stats.FilteredTotal(),
		"tokens", tokenCount,
	)

	return core.GovernedContext{
		AgentID:   req.AgentID,
		RequestID: req.RequestID,
		Memories:  memories,
		Metadata: core.ContextMetadata{
			TokenCount:    tokenCount,
			ReturnedCount: len(memories),
			FilteredCount: stats.FilteredTotal(),
			TotalExamined: stats.Examined,
			Stats:         stats,
			AuditID:       signed.AuditID,
			PolicyVersion: b.engine.Version(),
		},
	}, nil
}

// WriteRequest asks the guard to record a memory on behalf of an agent.
type WriteRequest struct {
	AgentID     string
	RequestID   string
	Content     string
	MemoryType  core.MemoryType
	Sensitivity core.Sensitivity
	Scope       core.Scope
	TTLSeconds  int64 // 0 selects the policy table default
	Provenance  string
}

// RecordMemory is the governed write path. Disabled agents fail with
// *core.AgentDisabledError, frozen agents with *core.PolicyEnforcementError
// so callers can tell "permanently stopped" from "temporarily blocked".
func (b *Builder) RecordMemory(ctx context.Context, req WriteRequest) (core.AuditRecord, error) {
	ctx, span := b.startSpan(ctx, "memgov.guard.record_memory", req.AgentID)
	defer b.endSpan(span)

	if req.AgentID == "" {
		return core.AuditRecord{}, &core.InvalidPolicyError{Reason: "agent_id_required"}
	}
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}

	allowed, reason, err := b.kill.CheckAllowed(ctx, req.AgentID, killswitch.CheckWrite)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("kill switch check: %w", err)
	}
	if !allowed {
		rec, aerr := b.auditDeniedWrite(ctx, req, reason)
		if aerr != nil {
			return core.AuditRecord{}, aerr
		}
		if reason == "agent_disabled" {
			return rec, &core.AgentDisabledError{AgentID: req.AgentID, Reason: reason}
		}
		return rec, &core.PolicyEnforcementError{Reason: reason}
	}

	draft := core.NewMemory(req.AgentID, req.Content, core.MemoryPolicy{
		MemoryType:  req.MemoryType,
		TTLSeconds:  req.TTLSeconds,
		Sensitivity: req.Sensitivity,
		Scope:       req.Scope,
		AllowRead:   true,
		AllowWrite:  true,
		Provenance:  req.Provenance,
	})

	decision, evalErr := b.engine.EvaluateWrite(draft, req.AgentID)
	if evalErr != nil {
		if _, aerr := b.auditDeniedWrite(ctx, req, decision.Reason); aerr != nil {
			return core.AuditRecord{}, aerr
		}
		return core.AuditRecord{}, evalErr
	}

	// Apply the effective TTL the evaluation settled on, recomputing the
	// expiry from the creation instant.
	draft.Policy.TTLSeconds = decision.EffectiveTTLSeconds
	draft.ExpiresAt = draft.CreatedAt.Add(time.Duration(decision.EffectiveTTLSeconds) * time.Second)

	rec, err := b.storage.Write(ctx, draft, core.WriteMeta{
		RequestID:     req.RequestID,
		PolicyVersion: b.engine.Version(),
		Reason:        decision.Reason,
	})
	if err != nil {
		return core.AuditRecord{}, err
	}

	b.logger.Debug("memory recorded",
		"agent_id", req.AgentID,
		"memory_id", draft.MemoryID,
		"memory_type", string(req.MemoryType),
		"ttl_seconds", decision.EffectiveTTLSeconds,
	)
	return rec, nil
}

func (b *Builder) auditDenied(ctx context.Context, req core.ContextRequest, reason string) (core.AuditRecord, error) {
	rec := core.NewAuditRecord(req.AgentID, core.OperationRead, core.DecisionDenied, reason)
	rec.RequestID = req.RequestID
	rec.PolicyVersion = b.engine.Version()
	signed, err := b.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("audit context denial: %w", err)
	}
	return signed, nil
}

func (b *Builder) auditDeniedWrite(ctx context.Context, req WriteRequest, reason string) (core.AuditRecord, error) {
	rec := core.NewAuditRecord(req.AgentID, core.OperationWrite, core.DecisionDenied, reason)
	rec.RequestID = req.RequestID
	rec.PolicyVersion = b.engine.Version()
	signed, err := b.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("audit write denial: %w", err)
	}
	return signed, nil
}

func (b *Builder) startSpan(ctx context.Context, name, agentID string) (context.Context, oteltrace.Span) {
	if b.tracer == nil {
		return ctx, nil
	}
	return b.tracer.Start(ctx, name, oteltrace.WithAttributes(
		attribute.String("memgov.agent_id", agentID),
	))
}

func (b *Builder) endSpan(span oteltrace.Span) {
	if span != nil {
		span.End()
	}
}
