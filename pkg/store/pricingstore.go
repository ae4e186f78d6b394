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

const pricingColumns = `pool_id, bucket, spot_price, on_demand, confidence, source`

// PricingStore is the Postgres-backed persistence for domain.PricingSnapshot
// (§3.2, §4.8).
type PricingStore struct {
	dbtx DBTX
}

// NewPricingStore builds a PricingStore over dbtx.
func NewPricingStore(dbtx DBTX) *PricingStore {
	return &PricingStore{dbtx: dbtx}
}

func scanPricingRow(row pgx.Row) (domain.PricingSnapshot, error) {
	var p domain.PricingSnapshot
	if err := row.Scan(&p.PoolID, &p.Bucket, &p.SpotPrice, &p.OnDemand, &p.Confidence, &p.Source); err != nil {
		return domain.PricingSnapshot{}, err
	}
	return p, nil
}

// Upsert inserts snap for its (pool, bucket) key, or replaces the existing
// row only when snap.Wins the row already there — highest confidence wins,
// ties keep the first-inserted row (§3.2 / §4.8, §8 invariant 4).
func (s *PricingStore) Upsert(ctx context.Context, snap domain.PricingSnapshot) error {
	query := `INSERT INTO pricing_snapshots (` + pricingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool_id, bucket) DO UPDATE SET
			spot_price = EXCLUDED.spot_price,
			on_demand = EXCLUDED.on_demand,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source
		WHERE EXCLUDED.confidence > pricing_snapshots.confidence`
	_, err := s.dbtx.Exec(ctx, query, snap.PoolID, snap.Bucket, snap.SpotPrice,
		snap.OnDemand, snap.Confidence, snap.Source)
	return err
}

// Get returns the snapshot for (poolID, bucket), if one exists.
func (s *PricingStore) Get(ctx context.Context, poolID string, bucket time.Time) (domain.PricingSnapshot, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_snapshots
		WHERE pool_id = $1 AND bucket = $2`
	row := s.dbtx.QueryRow(ctx, query, poolID, domain.TimeBucket(bucket))
	return scanPricingRow(row)
}

// Range returns every snapshot for poolID with bucket in [from, to),
// ordered oldest first, used to fill gaps and chart history (§4.8).
func (s *PricingStore) Range(ctx context.Context, poolID string, from, to time.Time) ([]domain.PricingSnapshot, error) {
	query := `SELECT ` + pricingColumns + ` FROM pricing_snapshots
		WHERE pool_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC`
	rows, err := s.dbtx.Query(ctx, query, poolID, domain.TimeBucket(from), domain.TimeBucket(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PricingSnapshot
	for rows.Next() {
		var p domain.PricingSnapshot
		if err := rows.Scan(&p.PoolID, &p.Bucket, &p.SpotPrice, &p.OnDemand, &p.Confidence, &p.Source); err != nil {
			return nil, fmt.Errorf("scanning pricing snapshot row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pricing snapshot rows: %w", err)
	}
	return out, nil
}

// LatestBucket returns the most recent bucket stored for poolID, used by
// the gap-fill sweep to find where contiguous coverage ends.
func (s *PricingStore) LatestBucket(ctx context.Context, poolID string) (time.Time, error) {
	query := `SELECT bucket FROM pricing_snapshots WHERE pool_id = $1 ORDER BY bucket DESC LIMIT 1`
	row := s.dbtx.QueryRow(ctx, query, poolID)
	var bucket time.Time
	if err := row.Scan(&bucket); err != nil {
		return time.Time{}, err
	}
	return bucket, nil
}
