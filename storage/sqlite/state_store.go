package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/memgov/memgov/core"
	"github.com/memgov/memgov/killswitch"
)

// StateStore is the durable agent state registry. Every Get hits the
// database; there is no cached view, so a disable committed by any process
// sharing the file is visible on the next check.
type StateStore struct {
	db *DB
}

var _ killswitch.StateStore = (*StateStore)(nil)

// NewStateStore constructs a state store over the shared database.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the stored status, or an enabled default for unknown agents.
func (s *StateStore) Get(ctx context.Context, agentID string) (core.AgentStatus, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT agent_id, state, disabled_at, reason, actor_id
		FROM agent_state WHERE agent_id = ?`, agentID)
	status, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AgentStatus{AgentID: agentID, State: core.AgentEnabled}, nil
		}
		return core.AgentStatus{}, fmt.Errorf("read agent state: %w", err)
	}
	return status, nil
}

// Set upserts the agent's status.
func (s *StateStore) Set(ctx context.Context, status core.AgentStatus) error {
	var disabledAt any
	if status.DisabledAt != nil {
		disabledAt = status.DisabledAt.UTC().Format(timeLayout)
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO agent_state (agent_id, state, disabled_at, reason, actor_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			state = excluded.state,
			disabled_at = excluded.disabled_at,
			reason = excluded.reason,
			actor_id = excluded.actor_id`,
		status.AgentID, string(status.State), disabledAt, status.Reason, status.ActorID,
	)
	if err != nil {
		return fmt.Errorf("write agent state: %w", err)
	}
	return nil
}

// List returns every known agent ordered by id.
func (s *StateStore) List(ctx context.Context) ([]core.AgentStatus, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT agent_id, state, disabled_at, reason, actor_id
		FROM agent_state ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agent state: %w", err)
	}
	defer rows.Close()

	var out []core.AgentStatus
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("list agent state: %w", err)
		}
		out = append(out, status)
	}
	return out, rows.Err()
}

// DisableAll flips every non-disabled agent in a single statement; SQLite's
// writer lock keeps concurrent transitions out until the update commits.
func (s *StateStore) DisableAll(ctx context.Context, reason, actorID string, at time.Time) ([]core.AgentStatus, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("disable all: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT agent_id FROM agent_state WHERE state != ? ORDER BY agent_id`,
		string(core.AgentDisabled))
	if err != nil {
		return nil, fmt.Errorf("disable all: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("disable all: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disable all: %w", err)
	}

	ts := at.UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx, `
		UPDATE agent_state
		SET state = ?, disabled_at = ?, reason = ?, actor_id = ?
		WHERE state != ?`,
		string(core.AgentDisabled), ts, reason, actorID, string(core.AgentDisabled))
	if err != nil {
		return nil, fmt.Errorf("disable all: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("disable all: %w", err)
	}

	disabledAt := at.UTC()
	out := make([]core.AgentStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.AgentStatus{
			AgentID:    id,
			State:      core.AgentDisabled,
			DisabledAt: &disabledAt,
			Reason:     reason,
			ActorID:    actorID,
		})
	}
	return out, nil
}

func scanStatus(s rowScanner) (core.AgentStatus, error) {
	var (
		status     core.AgentStatus
		disabledAt sql.NullString
		reason     sql.NullString
		actorID    sql.NullString
	)
	if err := s.Scan(&status.AgentID, &status.State, &disabledAt, &reason, &actorID); err != nil {
		return core.AgentStatus{}, err
	}
	if disabledAt.Valid && disabledAt.String != "" {
		t, err := time.Parse(timeLayout, disabledAt.String)
		if err != nil {
			return core.AgentStatus{}, fmt.Errorf("parse disabled_at: %w", err)
		}
		status.DisabledAt = &t
	}
	status.Reason = reason.String
	status.ActorID = actorID.String
	return status, nil
}
