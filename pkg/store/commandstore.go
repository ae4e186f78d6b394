/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/herdguard/herdguard/pkg/domain"
)

const commandColumns = `id, agent_id, kind, payload, status, created_at, expires_at,
	picked_up_at, completed_at, result, error`

// CommandStore is the Postgres-backed persistence for domain.Command.
type CommandStore struct {
	dbtx DBTX
}

// NewCommandStore builds a CommandStore over dbtx.
func NewCommandStore(dbtx DBTX) *CommandStore {
	return &CommandStore{dbtx: dbtx}
}

func scanCommandRow(row pgx.Row) (domain.Command, error) {
	var c domain.Command
	var payload []byte
	if err := row.Scan(&c.ID, &c.AgentID, &c.Kind, &payload, &c.Status, &c.CreatedAt,
		&c.ExpiresAt, &c.PickedUpAt, &c.CompletedAt, &c.Result, &c.Error); err != nil {
		return domain.Command{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &c.Payload); err != nil {
			return domain.Command{}, fmt.Errorf("unmarshaling command payload: %w", err)
		}
	}
	return c, nil
}

func scanCommandRows(rows pgx.Rows) ([]domain.Command, error) {
	defer rows.Close()
	var out []domain.Command
	for rows.Next() {
		var c domain.Command
		var payload []byte
		if err := rows.Scan(&c.ID, &c.AgentID, &c.Kind, &payload, &c.Status, &c.CreatedAt,
			&c.ExpiresAt, &c.PickedUpAt, &c.CompletedAt, &c.Result, &c.Error); err != nil {
			return nil, fmt.Errorf("scanning command row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &c.Payload); err != nil {
				return nil, fmt.Errorf("unmarshaling command payload: %w", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command rows: %w", err)
	}
	return out, nil
}

// Create inserts cmd and returns the stored row.
func (s *CommandStore) Create(ctx context.Context, cmd domain.Command) (domain.Command, error) {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return domain.Command{}, fmt.Errorf("marshaling command payload: %w", err)
	}
	query := `INSERT INTO commands (` + commandColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + commandColumns
	row := s.dbtx.QueryRow(ctx, query, cmd.ID, cmd.AgentID, cmd.Kind, payload, cmd.Status,
		cmd.CreatedAt, cmd.ExpiresAt, cmd.PickedUpAt, cmd.CompletedAt, cmd.Result, cmd.Error)
	return scanCommandRow(row)
}

// Get returns a single command by id.
func (s *CommandStore) Get(ctx context.Context, id string) (domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = $1`
	row := s.dbtx.QueryRow(ctx, query, id)
	return scanCommandRow(row)
}

// PendingForAgent returns every pending command queued for agentID, oldest
// first, matching the Agent protocol's FIFO pickup order (§4.5).
func (s *CommandStore) PendingForAgent(ctx context.Context, agentID string) ([]domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands
		WHERE agent_id = $1 AND status = $2
		ORDER BY created_at ASC`
	rows, err := s.dbtx.Query(ctx, query, agentID, domain.CommandPending)
	if err != nil {
		return nil, err
	}
	return scanCommandRows(rows)
}

// ForAgent returns every command ever queued for agentID regardless of
// status, most recent first, for operator-facing read access (distinct
// from PendingForAgent, which backs the Agent's own poll loop).
func (s *CommandStore) ForAgent(ctx context.Context, agentID string) ([]domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands
		WHERE agent_id = $1 ORDER BY created_at DESC`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	return scanCommandRows(rows)
}

// UpdateStatus applies a validated state transition and persists the
// terminal fields (result/error/timestamps) that accompany it.
func (s *CommandStore) UpdateStatus(ctx context.Context, cmd domain.Command) error {
	query := `UPDATE commands SET status = $2, picked_up_at = $3, completed_at = $4,
		result = $5, error = $6 WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, cmd.ID, cmd.Status, cmd.PickedUpAt, cmd.CompletedAt,
		cmd.Result, cmd.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ExpirePending marks every still-pending command past its deadline as
// expired and returns the number of rows affected.
func (s *CommandStore) ExpirePending(ctx context.Context) (int64, error) {
	query := `UPDATE commands SET status = $1 WHERE status = $2 AND expires_at <= now()`
	tag, err := s.dbtx.Exec(ctx, query, domain.CommandExpired, domain.CommandPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
