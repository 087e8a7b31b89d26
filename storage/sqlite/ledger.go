package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memgov/memgov/audit"
	"github.com/memgov/memgov/core"
)

// timeLayout is the fixed-width timestamp encoding for every stored
// instant. RFC3339Nano trims trailing fractional zeros, which breaks
// lexicographic ORDER BY and range comparisons ("…00.5Z" would sort after
// "…00.55Z"); padding the fraction to nine digits keeps string order equal
// to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ledger is the SQLite-backed append-only audit log. Sequence numbers come
// from the audit_log AUTOINCREMENT-style counter computed inside the append
// transaction, so they are globally monotonic and never reused.
type Ledger struct {
	db     *DB
	signer audit.Signer
}

var _ audit.Ledger = (*Ledger)(nil)

// NewLedger constructs a ledger over the shared database.
func NewLedger(db *DB, signer audit.Signer) *Ledger {
	return &Ledger{db: db, signer: signer}
}

// Append signs the record with its assigned sequence number and inserts it
// in one transaction.
func (l *Ledger) Append(ctx context.Context, record core.AuditRecord) (core.AuditRecord, error) {
	tx, err := l.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	signed, err := l.appendTx(ctx, tx, record)
	if err != nil {
		return core.AuditRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.AuditRecord{}, fmt.Errorf("commit append: %w", err)
	}
	return signed, nil
}

// appendTx performs the sign-and-insert inside an existing transaction so
// the memory adapter can commit a write and its audit record together.
func (l *Ledger) appendTx(ctx context.Context, tx *sql.Tx, record core.AuditRecord) (core.AuditRecord, error) {
	var next uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log`).Scan(&next); err != nil {
		return core.AuditRecord{}, fmt.Errorf("next audit sequence: %w", err)
	}
	record.Sequence = next
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := audit.CanonicalPayload(record)
	if err != nil {
		return core.AuditRecord{}, err
	}
	record.Signature = l.signer.Sign(payload)

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("encode audit metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (
			seq, audit_id, timestamp, agent_id, request_id, operation,
			memory_id, policy_version, decision, reason, actor_id,
			metadata, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Sequence,
		record.AuditID,
		record.Timestamp.UTC().Format(timeLayout),
		record.AgentID,
		record.RequestID,
		string(record.Operation),
		record.MemoryID,
		record.PolicyVersion,
		string(record.Decision),
		record.Reason,
		record.ActorID,
		string(metadata),
		record.Signature,
	)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("insert audit record: %w", err)
	}
	return record, nil
}

// Query returns verified records ordered by timestamp, sequence tiebreak.
func (l *Ledger) Query(ctx context.Context, filters core.AuditFilters) (audit.QueryResult, error) {
	query := `
		SELECT seq, audit_id, timestamp, agent_id, request_id, operation,
		       memory_id, policy_version, decision, reason, actor_id,
		       metadata, signature
		FROM audit_log WHERE 1=1`
	var args []any
	if filters.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filters.AgentID)
	}
	if filters.Operation != "" {
		query += " AND operation = ?"
		args = append(args, string(filters.Operation))
	}
	if !filters.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filters.Start.UTC().Format(timeLayout))
	}
	if !filters.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filters.End.UTC().Format(timeLayout))
	}
	query += " ORDER BY timestamp, seq"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	}

	rows, err := l.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.QueryResult{}, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []core.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return audit.QueryResult{}, err
		}
		if err := l.Verify(ctx, rec); err != nil {
			return audit.QueryResult{}, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return audit.QueryResult{}, fmt.Errorf("iterate audit log: %w", err)
	}

	res := audit.QueryResult{Records: records, Count: len(records)}
	if len(records) > 0 {
		res.From = records[0].Timestamp
		res.To = records[len(records)-1].Timestamp
	}
	return res, nil
}

// Verify recomputes the signature over the canonical payload; a mismatch
// fails closed with *core.AuditIntegrityError.
func (l *Ledger) Verify(_ context.Context, record core.AuditRecord) error {
	payload, err := audit.CanonicalPayload(record)
	if err != nil {
		return err
	}
	if !l.signer.Verify(payload, record.Signature) {
		return &core.AuditIntegrityError{AuditID: record.AuditID}
	}
	return nil
}

func scanAuditRecord(rows *sql.Rows) (core.AuditRecord, error) {
	var (
		rec       core.AuditRecord
		ts        string
		requestID sql.NullString
		memoryID  sql.NullString
		metadata  sql.NullString
	)
	if err := rows.Scan(
		&rec.Sequence, &rec.AuditID, &ts, &rec.AgentID, &requestID,
		&rec.Operation, &memoryID, &rec.PolicyVersion, &rec.Decision,
		&rec.Reason, &rec.ActorID, &metadata, &rec.Signature,
	); err != nil {
		return core.AuditRecord{}, fmt.Errorf("scan audit record: %w", err)
	}
	parsed, err := time.Parse(timeLayout, ts)
	if err != nil {
		return core.AuditRecord{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	rec.Timestamp = parsed
	rec.RequestID = requestID.String
	rec.MemoryID = memoryID.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return core.AuditRecord{}, fmt.Errorf("decode audit metadata: %w", err)
		}
	}
	return rec, nil
}
