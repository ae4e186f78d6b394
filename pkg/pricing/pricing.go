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

// Package pricing implements the pricing ingest and data-quality pipeline
// of §4.8: every report passed to Ingester lands in a raw store and a
// deduplicated cleaned store, and a periodic reconcile pass fills short gaps
// by interpolation. Agent reports received by the server's pricing-report
// handler do not pass through Ingester: they are upserted into the cleaned
// store only and never reach the raw store, so ReconcileAll, which takes its
// pool set from the raw store, does not visit pools that only agents report.
package pricing

import (
	"context"
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
)

// RawStore is the append-only record of every pricing report received, as
// persisted by store.PricingRawStore.
type RawStore interface {
	Insert(ctx context.Context, snap domain.PricingSnapshot) error
	Range(ctx context.Context, poolID string, from, to time.Time) ([]domain.PricingSnapshot, error)
	DistinctPoolsReportedSince(ctx context.Context, since time.Time) ([]string, error)
}

// CleanStore is the deduplicated, at-most-one-row-per-bucket view, as
// persisted by store.PricingStore.
type CleanStore interface {
	Upsert(ctx context.Context, snap domain.PricingSnapshot) error
	Range(ctx context.Context, poolID string, from, to time.Time) ([]domain.PricingSnapshot, error)
}

// Confidence values assigned to reports by origin. Agent-reported prices
// come straight from the instance's own metadata endpoint and are trusted
// most; a region-wide scrape samples one offer among many and is trusted
// less. Neither value is named by the spec; picked so a direct agent
// report always wins a tie against a concurrent scrape for the same
// bucket, per §4.8's confidence-then-insertion-order rule.
const (
	AgentReportConfidence = 1.0
	ScrapeReportConfidence = 0.8
)

// Recorder observes ingest volume by report source; satisfied by
// *metrics.Collectors. Nil by default, so ingest works without it.
type Recorder interface {
	RecordPricingIngest(source string)
}

// Ingester writes one pricing report to both stores (§4.8).
type Ingester struct {
	Raw     RawStore
	Clean   CleanStore
	Metrics Recorder
}

// NewIngester builds an Ingester over raw and clean.
func NewIngester(raw RawStore, clean CleanStore) *Ingester {
	return &Ingester{Raw: raw, Clean: clean}
}

// Ingest records snap in the raw store, then applies it to the cleaned
// store. snap.Bucket need not be pre-floored; Ingest floors it.
func (ing *Ingester) Ingest(ctx context.Context, snap domain.PricingSnapshot) error {
	snap.Bucket = domain.TimeBucket(snap.Bucket)
	if err := ing.Raw.Insert(ctx, snap); err != nil {
		return err
	}
	if err := ing.Clean.Upsert(ctx, snap); err != nil {
		return err
	}
	if ing.Metrics != nil {
		ing.Metrics.RecordPricingIngest(string(snap.Source))
	}
	return nil
}
