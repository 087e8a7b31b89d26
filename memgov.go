// Package memgov provides a high-level façade over the governance plane
// (policy engine, kill switch, audit ledger, retrieval guard & storage
// adapter) enabling governed memory access for AI agents. Most applications
// interact with this package by:
//  1. Creating a MemGov via New() (optionally overriding default in-memory services)
//  2. Recording memory through RecordMemory and reading it through BuildContext
//  3. Operating the kill switch (Disable, FreezeWrites, Enable, GlobalShutdown)
//
// The façade delegates enforcement to guard.Builder while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments supply the SQLite adapter (storage/sqlite),
// a signer keyed from a secret store and a structured logger.
package memgov

import (
	"context"
	"fmt"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/guard"
	"github.com/memgov/memgov/killswitch"
	"github.com/memgov/memgov/logging"
	"github.com/memgov/memgov/policy"
	"github.com/memgov/memgov/storage"
)

// Options configures a MemGov instance.
type Options struct {
	// PolicyConfig is the declarative governance configuration
	// (retention table, TTL ceiling, context budget).
	PolicyConfig policy.Config

	// Signer signs audit records. Defaults to an ephemeral HMAC key;
	// production keys come from a secret store.
	Signer audit.Signer

	// Ledger overrides the audit ledger (defaults to in-memory).
	Ledger audit.Ledger

	// Storage overrides the memory backend (defaults to in-memory).
	// Durable deployments pass a storage/sqlite adapter and its ledger.
	Storage core.StorageAdapter

	// StateStore overrides the agent state registry (defaults to
	// in-memory).
	StateStore killswitch.StateStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Tracer enables OpenTelemetry spans on the guard pipeline.
	Tracer oteltrace.Tracer
}

// MemGov is the high-level façade aggregating the governance components.
type MemGov struct {
	engine  *policy.Engine
	ledger  audit.Ledger
	store   core.StorageAdapter
	kill    *killswitch.KillSwitch
	builder *guard.Builder
}

// New creates a MemGov instance with optional overrides. Any unset service
// is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*MemGov, error) {
	opts := Options{
		PolicyConfig: policy.DefaultConfig(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.PolicyConfig.Validate(); err != nil {
		return nil, err
	}
	engine := policy.NewEngine(opts.PolicyConfig)

	if opts.Signer == nil {
		signer, err := audit.NewRandomHMACSigner()
		if err != nil {
			return nil, fmt.Errorf("init signer: %w", err)
		}
		opts.Signer = signer
	}
	if opts.Ledger == nil {
		opts.Ledger = audit.NewInMemoryLedger(opts.Signer)
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewInMemoryAdapter(engine, opts.Ledger)
	}
	if opts.StateStore == nil {
		opts.StateStore = killswitch.NewInMemoryStateStore()
	}

	kill := killswitch.New(opts.StateStore, opts.Ledger, func(o *killswitch.Options) {
		o.Logger = opts.Logger
		o.PolicyVersion = engine.Version()
	})
	builder := guard.NewBuilder(opts.Storage, kill, engine, opts.Ledger, func(o *guard.Options) {
		o.Logger = opts.Logger
		o.Tracer = opts.Tracer
	})

	return &MemGov{
		engine:  engine,
		ledger:  opts.Ledger,
		store:   opts.Storage,
		kill:    kill,
		builder: builder,
	}, nil
}

// BuildContext returns the governed, filtered slice of memory visible to
// the agent.
func (g *MemGov) BuildContext(ctx context.Context, req core.ContextRequest) (core.GovernedContext, error) {
	return g.builder.BuildContext(ctx, req)
}

// RecordMemory writes content through the governed write path.
func (g *MemGov) RecordMemory(ctx context.Context, req guard.WriteRequest) (core.AuditRecord, error) {
	return g.builder.RecordMemory(ctx, req)
}

// ReadMemory reads one memory under the agent's default policy check.
func (g *MemGov) ReadMemory(ctx context.Context, memoryID, agentID string) (*core.Memory, core.AuditRecord, error) {
	return g.store.Read(ctx, memoryID, agentID, core.NewPolicyCheck(agentID))
}

// DeleteMemory hard-deletes a memory on behalf of an operator.
func (g *MemGov) DeleteMemory(ctx context.Context, memoryID, actorID, reason string) (core.AuditRecord, error) {
	return g.store.Delete(ctx, memoryID, actorID, reason)
}

// Disable stops an agent entirely. Idempotent; each call appends a fresh
// audit record.
func (g *MemGov) Disable(ctx context.Context, agentID, reason, actorID string) (core.AuditRecord, error) {
	return g.kill.Disable(ctx, agentID, reason, actorID)
}

// FreezeWrites puts an agent in read-only mode.
func (g *MemGov) FreezeWrites(ctx context.Context, agentID, reason, actorID string) (core.AuditRecord, error) {
	return g.kill.FreezeWrites(ctx, agentID, reason, actorID)
}

// Enable explicitly reverses a disable or freeze.
func (g *MemGov) Enable(ctx context.Context, agentID, actorID string) (core.AuditRecord, error) {
	return g.kill.Enable(ctx, agentID, actorID)
}

// GlobalShutdown disables every known agent.
func (g *MemGov) GlobalShutdown(ctx context.Context, reason, actorID string) (core.AuditRecord, error) {
	return g.kill.GlobalShutdown(ctx, reason, actorID)
}

// CheckAgentEnabled reports whether the agent may currently operate at all.
func (g *MemGov) CheckAgentEnabled(ctx context.Context, agentID string) (bool, error) {
	allowed, _, err := g.kill.CheckAllowed(ctx, agentID, killswitch.CheckAll)
	return allowed, err
}

// AgentStatus returns the agent's lifecycle state from the authoritative
// registry.
func (g *MemGov) AgentStatus(ctx context.Context, agentID string) (core.AgentStatus, error) {
	return g.kill.Status(ctx, agentID)
}

// AuditLog queries the ledger for compliance export: ordered records plus
// count and the covered time span.
func (g *MemGov) AuditLog(ctx context.Context, filters core.AuditFilters) (audit.QueryResult, error) {
	return g.ledger.Query(ctx, filters)
}

// HealthCheck reports storage liveness.
func (g *MemGov) HealthCheck(ctx context.Context) error {
	return g.store.HealthCheck(ctx)
}

// PolicyVersion returns the active policy version.
func (g *MemGov) PolicyVersion() string { return g.engine.Version() }

// Guard exposes the underlying builder for framework adapters.
func (g *MemGov) Guard() *guard.Builder { return g.builder }

// Storage exposes the underlying adapter for framework adapters.
func (g *MemGov) Storage() core.StorageAdapter { return g.store }
