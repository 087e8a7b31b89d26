package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/policy"
)

// Adapter is the durable StorageAdapter. Memory writes and their audit
// records commit in the same transaction; reads and queries evaluate policy
// row by row before anything leaves the boundary.
type Adapter struct {
	db     *DB
	engine *policy.Engine
	ledger *Ledger
}

var _ core.StorageAdapter = (*Adapter)(nil)

// NewAdapter constructs an adapter sharing the database with its ledger.
func NewAdapter(db *DB, engine *policy.Engine, signer audit.Signer) *Adapter {
	return &Adapter{db: db, engine: engine, ledger: NewLedger(db, signer)}
}

// Ledger exposes the adapter's audit ledger so the kill switch and guard
// can append to the same durable log.
func (a *Adapter) Ledger() *Ledger { return a.ledger }

// Write persists the memory and its audit record atomically.
func (a *Adapter) Write(ctx context.Context, memory core.Memory, meta core.WriteMeta) (core.AuditRecord, error) {
	if memory.AgentID == "" {
		return core.AuditRecord{}, &core.InvalidPolicyError{Reason: "agent_id_required"}
	}
	if err := a.engine.ValidatePolicy(memory.Policy); err != nil {
		return core.AuditRecord{}, err
	}

	rec := core.NewAuditRecord(memory.AgentID, core.OperationWrite, core.DecisionAllowed, meta.Reason)
	if rec.Reason == "" {
		rec.Reason = "policy_enforcement_passed"
	}
	rec.RequestID = meta.RequestID
	rec.MemoryID = memory.MemoryID
	rec.PolicyVersion = meta.PolicyVersion
	if rec.PolicyVersion == "" {
		rec.PolicyVersion = a.engine.Version()
	}
	rec.Metadata = map[string]string{
		"memory_type": string(memory.Policy.MemoryType),
		"sensitivity": string(memory.Policy.Sensitivity),
		"scope":       string(memory.Policy.Scope),
		"ttl_seconds": fmt.Sprintf("%d", memory.Policy.TTLSeconds),
	}

	tx, err := a.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "write", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory (
			memory_id, agent_id, content, memory_type, sensitivity, scope,
			ttl_seconds, allow_read, allow_write, provenance,
			created_at, expires_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		memory.MemoryID,
		memory.AgentID,
		memory.Content,
		string(memory.Policy.MemoryType),
		string(memory.Policy.Sensitivity),
		string(memory.Policy.Scope),
		memory.Policy.TTLSeconds,
		memory.Policy.AllowRead,
		memory.Policy.AllowWrite,
		memory.Policy.Provenance,
		memory.CreatedAt.UTC().Format(timeLayout),
		memory.ExpiresAt.UTC().Format(timeLayout),
		memory.CreatedBy,
	)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "write", Err: err}
	}

	signed, err := a.ledger.appendTx(ctx, tx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "write audit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "write commit", Err: err}
	}
	return signed, nil
}

// Read fetches one memory and applies read-time policy evaluation.
func (a *Adapter) Read(ctx context.Context, memoryID, agentID string, check core.PolicyCheck) (*core.Memory, core.AuditRecord, error) {
	memory, err := a.fetch(ctx, memoryID)
	if err != nil {
		var notFound *core.MemoryNotFoundError
		if errors.As(err, &notFound) {
			rec, aerr := a.denied(ctx, agentID, core.OperationRead, memoryID, "memory_not_found")
			if aerr != nil {
				return nil, core.AuditRecord{}, aerr
			}
			return nil, rec, err
		}
		return nil, core.AuditRecord{}, err
	}

	decision, evalErr := a.engine.EvaluateRead(*memory, check, time.Now().UTC())
	if evalErr != nil {
		rec, aerr := a.denied(ctx, agentID, core.OperationRead, memoryID, decision.Reason)
		if aerr != nil {
			return nil, core.AuditRecord{}, aerr
		}
		return nil, rec, evalErr
	}

	rec := core.NewAuditRecord(agentID, core.OperationRead, core.DecisionAllowed, decision.Reason)
	rec.MemoryID = memoryID
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = map[string]string{
		"scope":       string(memory.Policy.Scope),
		"sensitivity": string(memory.Policy.Sensitivity),
	}
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return nil, core.AuditRecord{}, &core.StorageError{Op: "read audit", Err: err}
	}
	return memory, signed, nil
}

// Query evaluates policy per row, most recent first, and audits the
// retrieval with per-reason exclusion counts.
func (a *Adapter) Query(ctx context.Context, filters core.QueryFilters, agentID string, check core.PolicyCheck) (core.QueryResult, error) {
	rows, err := a.db.conn.QueryContext(ctx, `
		SELECT memory_id, agent_id, content, memory_type, sensitivity, scope,
		       ttl_seconds, allow_read, allow_write, provenance,
		       created_at, expires_at, created_by
		FROM memory
		ORDER BY created_at DESC, memory_id`)
	if err != nil {
		return core.QueryResult{}, &core.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	now := time.Now().UTC()
	var stats core.FilterStats
	var results []core.Memory

	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return core.QueryResult{}, &core.StorageError{Op: "query", Err: err}
		}
		stats.Examined++

		if !matchesFilters(memory, filters) {
			stats.FilterMismatch++
			continue
		}
		_, evalErr := a.engine.EvaluateRead(memory, check, now)
		if evalErr != nil {
			var iso *core.IsolationViolationError
			var pol *core.PolicyEnforcementError
			switch {
			case errors.As(evalErr, &iso):
				stats.ScopeDenied++
			case errors.As(evalErr, &pol) && pol.Reason == "memory_expired":
				stats.Expired++
			default:
				stats.ReadDenied++
			}
			continue
		}
		results = append(results, memory)
	}
	if err := rows.Err(); err != nil {
		return core.QueryResult{}, &core.StorageError{Op: "query", Err: err}
	}

	decision := core.DecisionAllowed
	if stats.FilteredTotal() > 0 {
		decision = core.DecisionFiltered
	}
	rec := core.NewAuditRecord(agentID, core.OperationQuery, decision, "query_executed_with_filters")
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = map[string]string{
		"total_records_examined": fmt.Sprintf("%d", stats.Examined),
		"filtered_count":         fmt.Sprintf("%d", stats.FilteredTotal()),
		"expired_count":          fmt.Sprintf("%d", stats.Expired),
		"scope_denied_count":     fmt.Sprintf("%d", stats.ScopeDenied),
		"read_denied_count":      fmt.Sprintf("%d", stats.ReadDenied),
		"filter_mismatch_count":  fmt.Sprintf("%d", stats.FilterMismatch),
		"returned_count":         fmt.Sprintf("%d", len(results)),
	}
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.QueryResult{}, &core.StorageError{Op: "query audit", Err: err}
	}
	return core.QueryResult{Memories: results, Stats: stats, Audit: signed}, nil
}

// Delete hard-deletes the row and audits it in the same transaction.
// Absent ids fail with MemoryNotFoundError.
func (a *Adapter) Delete(ctx context.Context, memoryID, actorID, reason string) (core.AuditRecord, error) {
	memory, err := a.fetch(ctx, memoryID)
	if err != nil {
		return core.AuditRecord{}, err
	}

	rec := core.NewAuditRecord(memory.AgentID, core.OperationDelete, core.DecisionAllowed, reason)
	rec.MemoryID = memoryID
	rec.ActorID = actorID
	rec.PolicyVersion = a.engine.Version()
	rec.Metadata = map[string]string{"deletion_reason": reason}

	tx, err := a.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memory WHERE memory_id = ?`, memoryID)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete", Err: err}
	}
	if affected == 0 {
		return core.AuditRecord{}, &core.MemoryNotFoundError{MemoryID: memoryID}
	}

	signed, err := a.ledger.appendTx(ctx, tx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete audit", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "delete commit", Err: err}
	}
	return signed, nil
}

// GetAuditLog is a read-only passthrough to the ledger.
func (a *Adapter) GetAuditLog(ctx context.Context, filters core.AuditFilters) ([]core.AuditRecord, error) {
	res, err := a.ledger.Query(ctx, filters)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// HealthCheck verifies the database connection.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.db.Health(ctx)
}

func (a *Adapter) fetch(ctx context.Context, memoryID string) (*core.Memory, error) {
	row := a.db.conn.QueryRowContext(ctx, `
		SELECT memory_id, agent_id, content, memory_type, sensitivity, scope,
		       ttl_seconds, allow_read, allow_write, provenance,
		       created_at, expires_at, created_by
		FROM memory WHERE memory_id = ?`, memoryID)
	memory, err := scanMemoryRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &core.MemoryNotFoundError{MemoryID: memoryID}
		}
		return nil, &core.StorageError{Op: "read", Err: err}
	}
	return memory, nil
}

func (a *Adapter) denied(ctx context.Context, agentID string, op core.Operation, memoryID, reason string) (core.AuditRecord, error) {
	rec := core.NewAuditRecord(agentID, op, core.DecisionDenied, reason)
	rec.MemoryID = memoryID
	rec.PolicyVersion = a.engine.Version()
	signed, err := a.ledger.Append(ctx, rec)
	if err != nil {
		return core.AuditRecord{}, &core.StorageError{Op: "denial audit", Err: err}
	}
	return signed, nil
}

func matchesFilters(m core.Memory, f core.QueryFilters) bool {
	if !f.MatchesType(m.Policy.MemoryType) {
		return false
	}
	if f.Sensitivity != "" && m.Policy.Sensitivity != f.Sensitivity {
		return false
	}
	if f.Scope != "" && m.Policy.Scope != f.Scope {
		return false
	}
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(rows *sql.Rows) (core.Memory, error) {
	m, err := scanInto(rows)
	if err != nil {
		return core.Memory{}, err
	}
	return *m, nil
}

func scanMemoryRow(row *sql.Row) (*core.Memory, error) {
	return scanInto(row)
}

func scanInto(s rowScanner) (*core.Memory, error) {
	var (
		m          core.Memory
		provenance sql.NullString
		createdAt  string
		expiresAt  string
	)
	if err := s.Scan(
		&m.MemoryID, &m.AgentID, &m.Content,
		&m.Policy.MemoryType, &m.Policy.Sensitivity, &m.Policy.Scope,
		&m.Policy.TTLSeconds, &m.Policy.AllowRead, &m.Policy.AllowWrite,
		&provenance, &createdAt, &expiresAt, &m.CreatedBy,
	); err != nil {
		return nil, err
	}
	m.Policy.Provenance = provenance.String

	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expires, err := time.Parse(timeLayout, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	m.CreatedAt = created
	m.ExpiresAt = expires
	return &m, nil
}
