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

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from redisURL and verifies
// connectivity with a ping before returning.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// priceCacheTTL is the freshness window a cached price is served under
// before a reader falls back to the provider/store (§4.1 / §6.5).
const priceCacheTTL = 10 * time.Minute

// PriceCache is a Redis-backed front cache over current spot/on-demand
// pricing, keyed by pool id, removing the per-candidate pricing lookup
// from the provider's hot path.
type PriceCache struct {
	client *redis.Client
}

// NewPriceCache builds a PriceCache over client.
func NewPriceCache(client *redis.Client) *PriceCache {
	return &PriceCache{client: client}
}

type cachedPrice struct {
	SpotPrice float64 `json:"spot_price"`
	OnDemand  float64 `json:"on_demand"`
}

// Set stores poolID's current prices with priceCacheTTL freshness.
func (c *PriceCache) Set(ctx context.Context, poolID string, spotPrice, onDemand float64) error {
	payload, err := json.Marshal(cachedPrice{SpotPrice: spotPrice, OnDemand: onDemand})
	if err != nil {
		return fmt.Errorf("marshaling cached price: %w", err)
	}
	return c.client.Set(ctx, priceCacheKey(poolID), payload, priceCacheTTL).Err()
}

// Get returns the cached (spotPrice, onDemand, ok) for poolID. ok is false
// on a cache miss or expiry; callers fall back to the provider/store.
func (c *PriceCache) Get(ctx context.Context, poolID string) (float64, float64, bool, error) {
	raw, err := c.client.Get(ctx, priceCacheKey(poolID)).Bytes()
	if err == redis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("reading cached price: %w", err)
	}
	var cached cachedPrice
	if err := json.Unmarshal(raw, &cached); err != nil {
		return 0, 0, false, fmt.Errorf("unmarshaling cached price: %w", err)
	}
	return cached.SpotPrice, cached.OnDemand, true, nil
}

// Invalidate removes any cached price for poolID, used when a fresher
// scrape or agent report supersedes it ahead of the TTL.
func (c *PriceCache) Invalidate(ctx context.Context, poolID string) error {
	return c.client.Del(ctx, priceCacheKey(poolID)).Err()
}

func priceCacheKey(poolID string) string {
	return "price:" + poolID
}
