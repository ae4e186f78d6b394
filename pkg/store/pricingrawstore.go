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

// PricingRawStore persists every pricing report written through
// pricing.Ingester exactly as received, unlike PricingStore which keeps only
// the winning row per (pool, bucket). Agent reports taken by the server's
// pricing-report handler go to PricingStore only and are not recorded here.
type PricingRawStore struct {
	dbtx DBTX
}

// NewPricingRawStore builds a PricingRawStore over dbtx.
func NewPricingRawStore(dbtx DBTX) *PricingRawStore {
	return &PricingRawStore{dbtx: dbtx}
}

// Insert appends snap, bucket-floored, without deduplication.
func (s *PricingRawStore) Insert(ctx context.Context, snap domain.PricingSnapshot) error {
	query := `INSERT INTO pricing_raw (pool_id, bucket, spot_price, on_demand, confidence, source)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.dbtx.Exec(ctx, query, snap.PoolID, domain.TimeBucket(snap.Bucket),
		snap.SpotPrice, snap.OnDemand, snap.Confidence, snap.Source)
	return err
}

// Range returns every raw report for poolID with bucket in [from, to),
// ordered oldest-reported first so the first-inserted row for a tied
// bucket sorts first (§4.8 tie-break).
func (s *PricingRawStore) Range(ctx context.Context, poolID string, from, to time.Time) ([]domain.PricingSnapshot, error) {
	query := `SELECT pool_id, bucket, spot_price, on_demand, confidence, source FROM pricing_raw
		WHERE pool_id = $1 AND bucket >= $2 AND bucket < $3
		ORDER BY bucket ASC, reported_at ASC, id ASC`
	rows, err := s.dbtx.Query(ctx, query, poolID, domain.TimeBucket(from), domain.TimeBucket(to))
	if err != nil {
		return nil, err
	}
	return scanRawPricingRows(rows)
}

func scanRawPricingRows(rows pgx.Rows) ([]domain.PricingSnapshot, error) {
	defer rows.Close()
	var out []domain.PricingSnapshot
	for rows.Next() {
		var p domain.PricingSnapshot
		if err := rows.Scan(&p.PoolID, &p.Bucket, &p.SpotPrice, &p.OnDemand, &p.Confidence, &p.Source); err != nil {
			return nil, fmt.Errorf("scanning raw pricing row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating raw pricing rows: %w", err)
	}
	return out, nil
}

// DistinctPoolsReportedSince returns every pool_id with at least one raw
// report at or after since, the working set the data-quality reconcile
// tick iterates each cycle.
func (s *PricingRawStore) DistinctPoolsReportedSince(ctx context.Context, since time.Time) ([]string, error) {
	query := `SELECT DISTINCT pool_id FROM pricing_raw WHERE bucket >= $1`
	rows, err := s.dbtx.Query(ctx, query, domain.TimeBucket(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []string
	for rows.Next() {
		var poolID string
		if err := rows.Scan(&poolID); err != nil {
			return nil, fmt.Errorf("scanning pool id: %w", err)
		}
		pools = append(pools, poolID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pool ids: %w", err)
	}
	return pools, nil
}
