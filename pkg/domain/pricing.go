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

package domain

import "time"

// PriceSource identifies how a PricingSnapshot was populated (§3.2).
type PriceSource string

const (
	PriceSourceAgent        PriceSource = "agent"
	PriceSourceScrape       PriceSource = "scrape"
	PriceSourceInterpolated PriceSource = "interpolated"
)

// BucketWidth is the fixed granularity pricing is floored to (§3.2).
const BucketWidth = 5 * time.Minute

// TimeBucket floors t to the BucketWidth boundary.
func TimeBucket(t time.Time) time.Time {
	return t.UTC().Truncate(BucketWidth)
}

// PricingSnapshot is one (pool, time-bucket) price observation.
type PricingSnapshot struct {
	PoolID     string
	Bucket     time.Time
	SpotPrice  float64
	OnDemand   float64
	Confidence float64
	Source     PriceSource
}

// Wins reports whether snapshot s should replace other for the same
// (pool, bucket) key, per §3.2 / §4.8: highest confidence wins, ties
// broken by insertion order (the caller passes the existing row as other
// only when it was inserted first, so a tie means other wins).
func (s PricingSnapshot) Wins(other PricingSnapshot) bool {
	return s.Confidence > other.Confidence
}
