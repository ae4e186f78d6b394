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

// Package advisor implements providers.SpotAdvisor against AWS's public spot
// interruption-frequency feed, a static JSON document keyed by region,
// instance type, and AZ letter refreshed periodically rather than queried
// per-candidate.
package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/herdguard/herdguard/pkg/errorkind"
)

// FeedURL is AWS's published spot advisor data feed.
const FeedURL = "https://spot-bid-advisor.s3.amazonaws.com/spot-advisor-data.json"

// refreshInterval bounds how stale the in-memory feed may be; the feed
// itself updates a few times a day.
const refreshInterval = 6 * time.Hour

// feedDocument mirrors the small slice of the advisor feed schema this
// package consumes: per-region, per-instance-type interruption-frequency
// "range" index, resolved to an approximate rate band.
type feedDocument struct {
	SpotAdvisor map[string]map[string]map[string]struct {
		R int `json:"r"` // interruption frequency range index, 0 (lowest) .. 4 (highest)
	} `json:"spot_advisor"`
}

// rangeMidpoints approximates AWS's published interruption-frequency bands:
// <5%, 5-10%, 10-15%, 15-20%, >20%.
var rangeMidpoints = [5]float64{0.025, 0.075, 0.125, 0.175, 0.25}

// Provider implements providers.SpotAdvisor.
type Provider struct {
	client  *retryablehttp.Client
	region  string
	feedURL string

	mu        sync.RWMutex
	doc       feedDocument
	fetchedAt time.Time
}

// New builds a Provider scoped to region. The feed is lazily fetched on
// first use and refreshed in the background by RefreshLoop.
func New(region string) *Provider {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return &Provider{client: client, region: region, feedURL: FeedURL}
}

// RefreshLoop blocks fetching the feed on refreshInterval until ctx is
// cancelled. Intended to run as one goroutine in the Scheduler's job set.
func (p *Provider) RefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	_ = p.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.refresh(ctx)
		}
	}
}

func (p *Provider) refresh(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err)
	}
	defer resp.Body.Close()

	var doc feedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err)
	}

	p.mu.Lock()
	p.doc = doc
	p.fetchedAt = time.Now()
	p.mu.Unlock()
	return nil
}

// InterruptRate implements providers.SpotAdvisor. az's trailing letter
// (e.g. "a" in "us-east-1a") is used as the feed's zone key.
func (p *Provider) InterruptRate(ctx context.Context, instanceType, az string, defaultRate float64) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fetchedAt.IsZero() {
		return defaultRate, errorkind.New(errorkind.DataGap, "spot advisor feed not yet loaded")
	}
	// The published feed indexes by region and OS, not by individual AZ; az
	// is accepted for interface symmetry with the other providers and to
	// leave room for a future per-zone feed.
	byOS, ok := p.doc.SpotAdvisor[p.region]
	if !ok {
		return defaultRate, nil
	}
	entry, ok := byOS["Linux"][instanceType]
	if !ok || entry.R < 0 || entry.R >= len(rangeMidpoints) {
		return defaultRate, nil
	}
	return rangeMidpoints[entry.R], nil
}
