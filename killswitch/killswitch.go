package killswitch

import (
	"context"
	"fmt"
	"time"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/logging"
)

// CheckOperation selects which posture a state check is asked about.
type CheckOperation string

const (
	// CheckRead asks whether the agent may read.
	CheckRead CheckOperation = "read"
	// CheckWrite asks whether the agent may write.
	CheckWrite CheckOperation = "write"
	// CheckAll asks whether the agent may do everything.
	CheckAll CheckOperation = "all"
)

// KillSwitch is the emergency control for agent operations.
//
// Guarantees:
//   - Instant: state is flipped synchronously, no queues.
//   - Idempotent: repeating a transition succeeds and re-audits.
//   - Non-bypassable: enforcement happens outside agent code.
//   - Audited: the record is appended before the state change becomes
//     observable; if the append fails the transition is reported failed.
type KillSwitch struct {
	states        StateStore
	ledger        audit.Ledger
	logger        logging.Logger
	policyVersion string
}

// Options configures a KillSwitch.
type Options struct {
	// Logger used for operator telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
	// PolicyVersion stamped on transition audit records.
	PolicyVersion string
}

// New constructs a KillSwitch over the authoritative state store and the
// audit ledger.
func New(states StateStore, ledger audit.Ledger, optFns ...func(o *Options)) *KillSwitch {
	opts := Options{Logger: logging.NoOpLogger{}, PolicyVersion: "1.0.0"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &KillSwitch{
		states:        states,
		ledger:        ledger,
		logger:        opts.Logger,
		policyVersion: opts.PolicyVersion,
	}
}

// CheckAllowed reports whether the operation is permitted for the agent and
// the reason when it is not. It re-reads authoritative state on every call;
// there is no in-process cache to go stale under concurrent disables.
func (k *KillSwitch) CheckAllowed(ctx context.Context, agentID string, op CheckOperation) (bool, string, error) {
	status, err := k.states.Get(ctx, agentID)
	if err != nil {
		return false, "", fmt.Errorf("read agent state: %w", err)
	}
	switch status.State {
	case core.AgentDisabled:
		return false, "agent_disabled", nil
	case core.AgentFrozen:
		if op == CheckRead {
			return true, "", nil
		}
		return false, "agent_frozen_write_denied", nil
	default:
		return true, "", nil
	}
}

// Disable stops the agent entirely: reads and writes both blocked. Calling
// it on an already-disabled agent succeeds and appends a fresh record.
func (k *KillSwitch) Disable(ctx context.Context, agentID, reason, actorID string) (core.AuditRecord, error) {
	now := time.Now().UTC()
	rec, err := k.transition(ctx, core.AgentStatus{
		AgentID:    agentID,
		State:      core.AgentDisabled,
		DisabledAt: &now,
		Reason:     reason,
		ActorID:    actorID,
	}, core.OperationDisable, reason, actorID)
	if err != nil {
		return core.AuditRecord{}, err
	}
	k.logger.Warn("agent disabled", "agent_id", agentID, "reason", reason, "actor_id", actorID)
	return rec, nil
}

// FreezeWrites puts the agent in read-only mode. Idempotent like Disable.
func (k *KillSwitch) FreezeWrites(ctx context.Context, agentID, reason, actorID string) (core.AuditRecord, error) {
	rec, err := k.transition(ctx, core.AgentStatus{
		AgentID: agentID,
		State:   core.AgentFrozen,
		Reason:  reason,
		ActorID: actorID,
	}, core.OperationFreeze, reason, actorID)
	if err != nil {
		return core.AuditRecord{}, err
	}
	k.logger.Warn("agent writes frozen", "agent_id", agentID, "reason", reason, "actor_id", actorID)
	return rec, nil
}

// Enable explicitly reverses a disable or freeze. Disable is conceptually
// permanent; this is the one deliberate way back, and it leaves its own
// audit record.
func (k *KillSwitch) Enable(ctx context.Context, agentID, actorID string) (core.AuditRecord, error) {
	rec, err := k.transition(ctx, core.AgentStatus{
		AgentID: agentID,
		State:   core.AgentEnabled,
		ActorID: actorID,
	}, core.OperationEnable, "agent_reenabled", actorID)
	if err != nil {
		return core.AuditRecord{}, err
	}
	k.logger.Info("agent re-enabled", "agent_id", agentID, "actor_id", actorID)
	return rec, nil
}

// GlobalShutdown disables every known agent. The store transition is
// atomic with respect to new state changes: no agent flips back to enabled
// mid-shutdown. Every record, the summary and one per affected agent, is
// appended before the sweep; a failed append aborts the shutdown with no
// state changed, the same record-before-state rule single-agent
// transitions follow.
func (k *KillSwitch) GlobalShutdown(ctx context.Context, reason, actorID string) (core.AuditRecord, error) {
	summary := core.NewAuditRecord("", core.OperationDisable, core.DecisionAllowed, reason)
	summary.ActorID = actorID
	summary.PolicyVersion = k.policyVersion
	summary.Metadata = map[string]string{"shutdown_scope": "global"}

	signed, err := k.ledger.Append(ctx, summary)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("audit global shutdown: %w", err)
	}

	statuses, err := k.states.List(ctx)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("list agents for shutdown: %w", err)
	}
	for _, st := range statuses {
		if st.State == core.AgentDisabled {
			continue
		}
		rec := core.NewAuditRecord(st.AgentID, core.OperationDisable, core.DecisionAllowed, reason)
		rec.ActorID = actorID
		rec.PolicyVersion = k.policyVersion
		rec.Metadata = map[string]string{"state": string(core.AgentDisabled), "shutdown_scope": "global"}
		if _, err := k.ledger.Append(ctx, rec); err != nil {
			return core.AuditRecord{}, fmt.Errorf("audit shutdown of agent %s: %w", st.AgentID, err)
		}
	}

	now := time.Now().UTC()
	transitioned, err := k.states.DisableAll(ctx, reason, actorID, now)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("disable all agents: %w", err)
	}

	k.logger.Warn("global shutdown", "reason", reason, "actor_id", actorID, "agents_disabled", len(transitioned))
	return signed, nil
}

// Status returns the agent's current lifecycle state from the
// authoritative store.
func (k *KillSwitch) Status(ctx context.Context, agentID string) (core.AgentStatus, error) {
	return k.states.Get(ctx, agentID)
}

// AuditLog returns the kill-switch slice of the ledger, optionally
// filtered by agent.
func (k *KillSwitch) AuditLog(ctx context.Context, agentID string) ([]core.AuditRecord, error) {
	res, err := k.ledger.Query(ctx, core.AuditFilters{AgentID: agentID})
	if err != nil {
		return nil, err
	}
	out := make([]core.AuditRecord, 0, len(res.Records))
	for _, r := range res.Records {
		switch r.Operation {
		case core.OperationDisable, core.OperationFreeze, core.OperationEnable:
			out = append(out, r)
		}
	}
	return out, nil
}

// transition appends the audit record first, then applies the state. A
// failed append aborts the transition so the state change can never be
// observable without its durable record.
func (k *KillSwitch) transition(ctx context.Context, status core.AgentStatus, op core.Operation, reason, actorID string) (core.AuditRecord, error) {
	rec := core.NewAuditRecord(status.AgentID, op, core.DecisionAllowed, reason)
	rec.ActorID = actorID
	rec.PolicyVersion = k.policyVersion
	rec.Metadata = map[string]string{"state": string(status.State)}

	signed, err := k.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("audit %s of agent %s: %w", op, status.AgentID, err)
	}
	if err := k.states.Set(ctx, status); err != nil {
		return core.AuditRecord{}, fmt.Errorf("apply %s of agent %s: %w", op, status.AgentID, err)
	}
	return signed, nil
}
