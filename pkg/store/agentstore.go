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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herdguard/herdguard/pkg/domain"
)

const agentColumns = `id, instance_id, client_token, last_heartbeat, status, current_mode, current_pool_id,
	current_replica_id, auto_switch_enabled, manual_replica_on, switching_threshold`

// AgentStore is the Postgres-backed persistence for domain.Agent.
type AgentStore struct {
	dbtx DBTX
}

// NewAgentStore builds an AgentStore over dbtx.
func NewAgentStore(dbtx DBTX) *AgentStore {
	return &AgentStore{dbtx: dbtx}
}

func scanAgentRow(row pgx.Row) (domain.Agent, error) {
	var a domain.Agent
	if err := row.Scan(&a.ID, &a.InstanceID, &a.ClientToken, &a.LastHeartbeat, &a.Status, &a.CurrentMode, &a.CurrentPoolID,
		&a.CurrentReplicaID, &a.AutoSwitchEnabled, &a.ManualReplicaOn, &a.SwitchingThreshold); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func scanAgentRows(rows pgx.Rows) ([]domain.Agent, error) {
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.InstanceID, &a.ClientToken, &a.LastHeartbeat, &a.Status, &a.CurrentMode, &a.CurrentPoolID,
			&a.CurrentReplicaID, &a.AutoSwitchEnabled, &a.ManualReplicaOn, &a.SwitchingThreshold); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return out, nil
}

// Upsert inserts agent, or replaces it by id when it already exists — an
// Agent row is keyed by its process identity, registered once on startup
// and thereafter only updated (heartbeat, status, switch settings).
func (s *AgentStore) Upsert(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	query := `INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			client_token = EXCLUDED.client_token,
			last_heartbeat = EXCLUDED.last_heartbeat,
			status = EXCLUDED.status,
			current_mode = EXCLUDED.current_mode,
			current_pool_id = EXCLUDED.current_pool_id,
			current_replica_id = EXCLUDED.current_replica_id,
			auto_switch_enabled = EXCLUDED.auto_switch_enabled,
			manual_replica_on = EXCLUDED.manual_replica_on,
			switching_threshold = EXCLUDED.switching_threshold
		RETURNING ` + agentColumns
	row := s.dbtx.QueryRow(ctx, query, a.ID, a.InstanceID, a.ClientToken, a.LastHeartbeat,
		a.Status, a.CurrentMode, a.CurrentPoolID, a.CurrentReplicaID, a.AutoSwitchEnabled, a.ManualReplicaOn, a.SwitchingThreshold)
	return scanAgentRow(row)
}

// Get returns a single agent by id.
func (s *AgentStore) Get(ctx context.Context, id string) (domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	row := s.dbtx.QueryRow(ctx, query, id)
	return scanAgentRow(row)
}

// GetByTokenAndInstance returns the agent already registered with this
// (client-token, instance) pair, if any — the lookup that makes
// POST /agents/register idempotent (§4.5).
func (s *AgentStore) GetByTokenAndInstance(ctx context.Context, clientToken, instanceID string) (domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE client_token = $1 AND instance_id = $2`
	row := s.dbtx.QueryRow(ctx, query, clientToken, instanceID)
	return scanAgentRow(row)
}

// Heartbeat bumps last_heartbeat, status, mode, and the reported current
// pool for id.
func (s *AgentStore) Heartbeat(ctx context.Context, id string, status domain.AgentStatus, mode domain.InputMode, poolID string, lastHeartbeat time.Time) error {
	query := `UPDATE agents SET status = $2, current_mode = $3, current_pool_id = $4, last_heartbeat = $5 WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, id, status, mode, poolID, lastHeartbeat)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// StaleSince returns every agent whose last_heartbeat is older than cutoff,
// used by the heartbeat-timeout sweep of §4.5.
func (s *AgentStore) StaleSince(ctx context.Context, cutoff time.Time) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE status = $1 AND last_heartbeat < $2`
	rows, err := s.dbtx.Query(ctx, query, domain.AgentStatusOnline, cutoff)
	if err != nil {
		return nil, err
	}
	return scanAgentRows(rows)
}

// OnlineByMode returns every online agent reporting the given input mode,
// the working set the k8s-mode pipeline runner iterates each tick (§4.11).
func (s *AgentStore) OnlineByMode(ctx context.Context, mode domain.InputMode) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = $1 AND current_mode = $2`
	rows, err := s.dbtx.Query(ctx, query, domain.AgentStatusOnline, mode)
	if err != nil {
		return nil, err
	}
	return scanAgentRows(rows)
}

// OnlineWithReplicaFeatures returns every online agent with auto-switch or
// manual-replica enabled, the working set the Replica Coordinator iterates
// each tick (§4.6).
func (s *AgentStore) OnlineWithReplicaFeatures(ctx context.Context) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE status = $1 AND (auto_switch_enabled OR manual_replica_on)`
	rows, err := s.dbtx.Query(ctx, query, domain.AgentStatusOnline)
	if err != nil {
		return nil, err
	}
	return scanAgentRows(rows)
}
