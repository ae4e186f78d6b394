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

package pricing

import (
	"context"
	"sort"
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
)

// gapFillWindow is how far back a gap may be filled by interpolation
// (§4.8: "gaps up to 24h back").
const gapFillWindow = 24 * time.Hour

// anchorLookback extends how far before the gap-fill window Reconcile will
// search for the nearest earlier real observation to interpolate from; an
// anchor itself need not fall inside the window being filled.
const anchorLookback = 24 * time.Hour

const (
	linearInterpolationConfidence = 0.7
	carryInterpolationConfidence  = 0.5
)

// Reconciler runs the dedup-and-fill pass of §4.8 on a 5-minute, per-pool
// tick.
type Reconciler struct {
	Raw   RawStore
	Clean CleanStore
}

// NewReconciler builds a Reconciler over raw and clean.
func NewReconciler(raw RawStore, clean CleanStore) *Reconciler {
	return &Reconciler{Raw: raw, Clean: clean}
}

// ReconcileAll reconciles every pool that has reported a price in the last
// gapFillWindow, the working set the data-quality scheduler job iterates
// each tick (§4.9).
func (r *Reconciler) ReconcileAll(ctx context.Context, now time.Time) error {
	pools, err := r.Raw.DistinctPoolsReportedSince(ctx, now.Add(-gapFillWindow))
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx)
	for _, poolID := range pools {
		if err := r.Reconcile(ctx, poolID, now); err != nil {
			logger.Error(err, "reconciling pool pricing", "pool-id", poolID)
		}
	}
	return nil
}

// Reconcile re-applies every raw report in the gap-fill window to the
// cleaned store (resolving any report that arrived out of order since its
// bucket was first seen) and then fills buckets still missing a row by
// interpolation (§4.8).
func (r *Reconciler) Reconcile(ctx context.Context, poolID string, now time.Time) error {
	windowStart := domain.TimeBucket(now.Add(-gapFillWindow))
	windowEnd := domain.TimeBucket(now).Add(domain.BucketWidth)

	rawRows, err := r.Raw.Range(ctx, poolID, windowStart, windowEnd)
	if err != nil {
		return err
	}
	for _, snap := range rawRows {
		if err := r.Clean.Upsert(ctx, snap); err != nil {
			return err
		}
	}

	return r.fillGaps(ctx, poolID, windowStart, windowEnd)
}

func (r *Reconciler) fillGaps(ctx context.Context, poolID string, windowStart, windowEnd time.Time) error {
	anchorStart := windowStart.Add(-anchorLookback)
	existing, err := r.Clean.Range(ctx, poolID, anchorStart, windowEnd)
	if err != nil {
		return err
	}

	existingByBucket := make(map[time.Time]domain.PricingSnapshot, len(existing))
	var anchors []domain.PricingSnapshot
	for _, e := range existing {
		existingByBucket[e.Bucket] = e
		if e.Source != domain.PriceSourceInterpolated {
			anchors = append(anchors, e)
		}
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Bucket.Before(anchors[j].Bucket) })

	for b := windowStart; b.Before(windowEnd); b = b.Add(domain.BucketWidth) {
		if _, ok := existingByBucket[b]; ok {
			continue
		}
		before, after := nearestAnchors(anchors, b)
		filled, ok := interpolate(poolID, b, before, after)
		if !ok {
			continue
		}
		if err := r.Clean.Upsert(ctx, filled); err != nil {
			return err
		}
	}
	return nil
}

// nearestAnchors returns the latest anchor strictly before b and the
// earliest anchor strictly after b. anchors must be sorted ascending by
// Bucket.
func nearestAnchors(anchors []domain.PricingSnapshot, b time.Time) (before, after *domain.PricingSnapshot) {
	for i := range anchors {
		a := anchors[i]
		if a.Bucket.Before(b) {
			before = &anchors[i]
		} else if a.Bucket.After(b) && after == nil {
			after = &anchors[i]
			break
		}
	}
	return before, after
}

// interpolate fills bucket b for poolID from its neighboring anchors: a
// linear blend when both sides are present, otherwise a carry from
// whichever side exists. Returns ok=false when neither side is present.
func interpolate(poolID string, b time.Time, before, after *domain.PricingSnapshot) (domain.PricingSnapshot, bool) {
	switch {
	case before != nil && after != nil:
		span := after.Bucket.Sub(before.Bucket)
		frac := b.Sub(before.Bucket).Seconds() / span.Seconds()
		return domain.PricingSnapshot{
			PoolID:     poolID,
			Bucket:     b,
			SpotPrice:  lerp(before.SpotPrice, after.SpotPrice, frac),
			OnDemand:   lerp(before.OnDemand, after.OnDemand, frac),
			Confidence: linearInterpolationConfidence,
			Source:     domain.PriceSourceInterpolated,
		}, true
	case before != nil:
		return domain.PricingSnapshot{
			PoolID: poolID, Bucket: b,
			SpotPrice: before.SpotPrice, OnDemand: before.OnDemand,
			Confidence: carryInterpolationConfidence,
			Source:     domain.PriceSourceInterpolated,
		}, true
	case after != nil:
		return domain.PricingSnapshot{
			PoolID: poolID, Bucket: b,
			SpotPrice: after.SpotPrice, OnDemand: after.OnDemand,
			Confidence: carryInterpolationConfidence,
			Source:     domain.PriceSourceInterpolated,
		}, true
	default:
		return domain.PricingSnapshot{}, false
	}
}

func lerp(a, b, frac float64) float64 {
	return a + (b-a)*frac
}
