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
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/providers"
)

// Scraper ingests a region-wide spot price sample on each scheduler tick
// (§4.9: "price scrape, every 5 min per region").
type Scraper struct {
	Prices   providers.PriceProvider
	Ingester *Ingester
}

// NewScraper builds a Scraper over prices, writing through ingester.
func NewScraper(prices providers.PriceProvider, ingester *Ingester) *Scraper {
	return &Scraper{Prices: prices, Ingester: ingester}
}

// ScrapeRegion pulls every (type, az) spot price in region and ingests one
// snapshot per pool, bucketed to now. On-demand price is resolved once per
// distinct instance type to avoid a redundant call per availability zone.
func (s *Scraper) ScrapeRegion(ctx context.Context, region string) error {
	spot, err := s.Prices.BulkSpot(ctx, region)
	if err != nil {
		return err
	}

	now := time.Now()
	onDemand := make(map[string]float64, len(spot))
	for pool, spotPrice := range spot {
		price, ok := onDemand[pool.Type]
		if !ok {
			price, err = s.Prices.OnDemand(ctx, pool.Type)
			if err != nil {
				continue
			}
			onDemand[pool.Type] = price
		}

		snap := domain.PricingSnapshot{
			PoolID:     pool.ID(),
			Bucket:     domain.TimeBucket(now),
			SpotPrice:  spotPrice,
			OnDemand:   price,
			Confidence: ScrapeReportConfidence,
			Source:     domain.PriceSourceScrape,
		}
		if err := s.Ingester.Ingest(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}
