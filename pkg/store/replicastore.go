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

	"github.com/jackc/pgx/v5"

	"github.com/herdguard/herdguard/pkg/domain"
)

const replicaColumns = `id, parent_agent_id, pool_id, status, type, sync_progress,
	hourly_cost, created_by, is_active, promoted_at, created_at`

// ReplicaStore is the Postgres-backed persistence for domain.Replica,
// backing the Replica Coordinator (§4.6).
type ReplicaStore struct {
	dbtx DBTX
}

// NewReplicaStore builds a ReplicaStore over dbtx.
func NewReplicaStore(dbtx DBTX) *ReplicaStore {
	return &ReplicaStore{dbtx: dbtx}
}

func scanReplicaRow(row pgx.Row) (domain.Replica, error) {
	var r domain.Replica
	if err := row.Scan(&r.ID, &r.ParentAgentID, &r.PoolID, &r.Status, &r.Type,
		&r.SyncProgress, &r.HourlyCost, &r.CreatedBy, &r.IsActive, &r.PromotedAt, &r.CreatedAt); err != nil {
		return domain.Replica{}, err
	}
	return r, nil
}

func scanReplicaRows(rows pgx.Rows) ([]domain.Replica, error) {
	defer rows.Close()
	var out []domain.Replica
	for rows.Next() {
		var r domain.Replica
		if err := rows.Scan(&r.ID, &r.ParentAgentID, &r.PoolID, &r.Status, &r.Type,
			&r.SyncProgress, &r.HourlyCost, &r.CreatedBy, &r.IsActive, &r.PromotedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning replica row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating replica rows: %w", err)
	}
	return out, nil
}

// Create inserts r and returns the stored row.
func (s *ReplicaStore) Create(ctx context.Context, r domain.Replica) (domain.Replica, error) {
	query := `INSERT INTO replicas (` + replicaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + replicaColumns
	row := s.dbtx.QueryRow(ctx, query, r.ID, r.ParentAgentID, r.PoolID, r.Status, r.Type,
		r.SyncProgress, r.HourlyCost, r.CreatedBy, r.IsActive, r.PromotedAt, r.CreatedAt)
	return scanReplicaRow(row)
}

// Get returns a single replica by id.
func (s *ReplicaStore) Get(ctx context.Context, id string) (domain.Replica, error) {
	query := `SELECT ` + replicaColumns + ` FROM replicas WHERE id = $1`
	row := s.dbtx.QueryRow(ctx, query, id)
	return scanReplicaRow(row)
}

// ForAgent returns every replica belonging to agentID, most recent first.
func (s *ReplicaStore) ForAgent(ctx context.Context, agentID string) ([]domain.Replica, error) {
	query := `SELECT ` + replicaColumns + ` FROM replicas
		WHERE parent_agent_id = $1 ORDER BY created_at DESC`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	return scanReplicaRows(rows)
}

// UpdateStatus persists a status/sync-progress change, and the active flag
// and promoted-at timestamp a promotion carries with it (§4.6: "promoting a
// replica deactivates every sibling replica of the same agent").
func (s *ReplicaStore) UpdateStatus(ctx context.Context, r domain.Replica) error {
	query := `UPDATE replicas SET status = $2, sync_progress = $3, is_active = $4,
		promoted_at = $5 WHERE id = $1`
	tag, err := s.dbtx.Exec(ctx, query, r.ID, r.Status, r.SyncProgress, r.IsActive, r.PromotedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeactivateSiblings clears is_active on every replica of agentID other
// than keepID, used when promoting keepID to primary.
func (s *ReplicaStore) DeactivateSiblings(ctx context.Context, agentID, keepID string) error {
	query := `UPDATE replicas SET is_active = false
		WHERE parent_agent_id = $1 AND id != $2 AND is_active = true`
	_, err := s.dbtx.Exec(ctx, query, agentID, keepID)
	return err
}
