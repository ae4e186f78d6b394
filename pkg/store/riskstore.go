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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/risk"
)

var _ risk.Store = (*RiskStore)(nil)

// riskEventColumns is the shared column list for risk_events queries.
const riskEventColumns = `id, pool_id, kind, reported_at, expires_at, source_tenant, metadata`

// RiskStore is the Postgres-backed implementation of risk.Store.
type RiskStore struct {
	dbtx DBTX
}

// NewRiskStore builds a RiskStore over dbtx.
func NewRiskStore(dbtx DBTX) *RiskStore {
	return &RiskStore{dbtx: dbtx}
}

func scanRiskEventRows(rows pgx.Rows) ([]domain.RiskEvent, error) {
	defer rows.Close()
	var events []domain.RiskEvent
	for rows.Next() {
		var e domain.RiskEvent
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.PoolID, &e.Kind, &e.ReportedAt, &e.ExpiresAt, &e.SourceTenant, &metadata); err != nil {
			return nil, fmt.Errorf("scanning risk event row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling risk event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating risk event rows: %w", err)
	}
	return events, nil
}

// InsertRiskEvent appends event. Rows are never updated after insertion
// (§4.4: "append-only").
func (s *RiskStore) InsertRiskEvent(ctx context.Context, event domain.RiskEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling risk event metadata: %w", err)
	}
	query := `INSERT INTO risk_events (` + riskEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.dbtx.Exec(ctx, query, event.ID, event.PoolID, event.Kind,
		event.ReportedAt, event.ExpiresAt, event.SourceTenant, metadata)
	return err
}

// ActiveRiskEvents returns every event for poolID whose expires-at is
// strictly after now.
func (s *RiskStore) ActiveRiskEvents(ctx context.Context, poolID string, now time.Time) ([]domain.RiskEvent, error) {
	query := `SELECT ` + riskEventColumns + ` FROM risk_events
		WHERE pool_id = $1 AND expires_at > $2
		ORDER BY reported_at DESC`
	rows, err := s.dbtx.Query(ctx, query, poolID, now)
	if err != nil {
		return nil, err
	}
	return scanRiskEventRows(rows)
}

// DeleteExpiredRiskEvents removes every row with expires-at <= now and
// returns the number of rows removed.
func (s *RiskStore) DeleteExpiredRiskEvents(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM risk_events WHERE expires_at <= $1`
	tag, err := s.dbtx.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
