package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/memgov/memgov/core"
)

// QueryResult is an ordered slice of the ledger with the span it covers,
// shaped for compliance export.
type QueryResult struct {
	Records []core.AuditRecord `json:"records"`
	Count   int                `json:"count"`
	From    time.Time          `json:"from,omitempty"`
	To      time.Time          `json:"to,omitempty"`
}

// Ledger is the append-only signed record store. Append is the only
// mutation in the contract; there is no update or delete. If an append
// fails, the governance decision that produced the record must be reported
// as failed by its caller: no state change without a durable record.
type Ledger interface {
	// Append signs the record, assigns the next global sequence number
	// and stores it. The returned record carries both.
	Append(ctx context.Context, record core.AuditRecord) (core.AuditRecord, error)

	// Query returns records in non-decreasing timestamp order, ties
	// broken by sequence number. Every returned record has been
	// signature-verified; a mismatch fails the whole query with
	// *core.AuditIntegrityError rather than silently dropping the record.
	Query(ctx context.Context, filters core.AuditFilters) (QueryResult, error)

	// Verify recomputes the record's signature and compares.
	Verify(ctx context.Context, record core.AuditRecord) error
}

// InMemoryLedger is a process-local Ledger guarded by a mutex. Records are
// held in insertion order; sequence numbers are assigned from a counter
// that is never reused. Suitable for tests and single-process deployments.
type InMemoryLedger struct {
	mu      sync.RWMutex
	signer  Signer
	records []core.AuditRecord
	seq     uint64
}

var _ Ledger = (*InMemoryLedger)(nil)

// NewInMemoryLedger constructs an empty ledger signing with the given
// signer.
func NewInMemoryLedger(signer Signer) *InMemoryLedger {
	return &InMemoryLedger{signer: signer}
}

// Append signs and stores the record, assigning the next sequence number.
func (l *InMemoryLedger) Append(_ context.Context, record core.AuditRecord) (core.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	record.Sequence = l.seq
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := CanonicalPayload(record)
	if err != nil {
		l.seq--
		return core.AuditRecord{}, err
	}
	record.Signature = l.signer.Sign(payload)

	l.records = append(l.records, record)
	return record, nil
}

// Query filters, verifies and orders the ledger contents.
func (l *InMemoryLedger) Query(ctx context.Context, filters core.AuditFilters) (QueryResult, error) {
	l.mu.RLock()
	snapshot := make([]core.AuditRecord, len(l.records))
	copy(snapshot, l.records)
	l.mu.RUnlock()

	matched := make([]core.AuditRecord, 0, len(snapshot))
	for _, r := range snapshot {
		if !matches(r, filters) {
			continue
		}
		if err := l.Verify(ctx, r); err != nil {
			return QueryResult{}, err
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Sequence < matched[j].Sequence
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if filters.Limit > 0 && len(matched) > filters.Limit {
		matched = matched[:filters.Limit]
	}

	res := QueryResult{Records: matched, Count: len(matched)}
	if len(matched) > 0 {
		res.From = matched[0].Timestamp
		res.To = matched[len(matched)-1].Timestamp
	}
	return res, nil
}

// Verify recomputes the signature over the canonical payload. Any mismatch
// marks the record untrusted and fails closed.
func (l *InMemoryLedger) Verify(_ context.Context, record core.AuditRecord) error {
	payload, err := CanonicalPayload(record)
	if err != nil {
		return err
	}
	if !l.signer.Verify(payload, record.Signature) {
		return &core.AuditIntegrityError{AuditID: record.AuditID}
	}
	return nil
}

// Len returns the number of records appended so far.
func (l *InMemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// tamper overwrites a stored record in place. Test hook: the public
// contract has no mutation, so integrity tests reach in through this.
func (l *InMemoryLedger) tamper(i int, mutate func(*core.AuditRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.records[i])
}

func matches(r core.AuditRecord, f core.AuditFilters) bool {
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if !f.Start.IsZero() && r.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && r.Timestamp.After(f.End) {
		return false
	}
	return true
}
