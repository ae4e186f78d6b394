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

// Package scheduler supervises the control plane's periodic jobs (§4.9):
// price scrape, risk cleanup, data-quality reconcile, and the replica
// coordinator tick. Each job runs on its own ticker and is cooperatively
// cancellable; a job still running when its next tick arrives simply
// drops that tick rather than running twice in parallel, since each job
// loop consumes its ticker channel synchronously.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/herdguard/herdguard/pkg/logging"
)

// maxConcurrentScrapes bounds how many regions a single scrape tick samples
// in parallel, so a large region list can't open unbounded concurrent
// connections to the pricing/spot APIs.
const maxConcurrentScrapes = 4

// PriceScraper samples one region's spot/on-demand prices and ingests them.
type PriceScraper interface {
	ScrapeRegion(ctx context.Context, region string) error
}

// RiskCleaner deletes expired risk events.
type RiskCleaner interface {
	Cleanup(ctx context.Context, now time.Time) (int64, error)
}

// DataQualityReconciler dedups and gap-fills pricing for every active pool.
type DataQualityReconciler interface {
	ReconcileAll(ctx context.Context, now time.Time) error
}

// ReplicaTicker runs one replica-coordinator reconcile pass.
type ReplicaTicker interface {
	Tick(ctx context.Context)
}

// RiskCleanupRecorder observes how many expired risk events a cleanup pass
// deleted; satisfied by *metrics.Collectors. Nil by default, so the
// scheduler works without it.
type RiskCleanupRecorder interface {
	RecordRiskEventsCleaned(n int64)
}

// Config holds each job's cadence (§4.9, §6.5).
type Config struct {
	Regions []string

	ScrapeInterval             time.Duration
	RiskCleanupInterval        time.Duration
	DataQualityReconcileInterval time.Duration
	ReplicaCoordinatorInterval time.Duration
}

// Deps wires the concrete job implementations. Any of Scraper, Risk,
// Quality, or Replica may be nil to omit that job, letting a caller run a
// partial scheduler in tests.
type Deps struct {
	Scraper PriceScraper
	Risk    RiskCleaner
	Quality DataQualityReconciler
	Replica ReplicaTicker
	Metrics RiskCleanupRecorder
}

// Scheduler runs the jobs in Deps on the cadences in Config until its
// context is cancelled.
type Scheduler struct {
	deps Deps
	cfg  Config
}

// New builds a Scheduler.
func New(deps Deps, cfg Config) *Scheduler {
	return &Scheduler{deps: deps, cfg: cfg}
}

// Run starts every configured job and blocks until ctx is cancelled or an
// unrecoverable job error occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.deps.Scraper != nil {
		g.Go(func() error { s.runScrapeLoop(ctx); return nil })
	}
	if s.deps.Risk != nil {
		g.Go(func() error { s.runRiskCleanupLoop(ctx); return nil })
	}
	if s.deps.Quality != nil {
		g.Go(func() error { s.runQualityLoop(ctx); return nil })
	}
	if s.deps.Replica != nil {
		g.Go(func() error { s.runReplicaLoop(ctx); return nil })
	}

	return g.Wait()
}

func (s *Scheduler) runScrapeLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(s.cfg.ScrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(maxConcurrentScrapes)
			for _, region := range s.cfg.Regions {
				region := region
				g.Go(func() error {
					if err := s.deps.Scraper.ScrapeRegion(gctx, region); err != nil {
						logger.Error(err, "scraping region prices", "region", region)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

func (s *Scheduler) runRiskCleanupLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(s.cfg.RiskCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.deps.Risk.Cleanup(ctx, time.Now()); err != nil {
				logger.Error(err, "cleaning up expired risk events")
			} else if n > 0 {
				logger.Info("deleted expired risk events", "count", n)
				if s.deps.Metrics != nil {
					s.deps.Metrics.RecordRiskEventsCleaned(n)
				}
			}
		}
	}
}

func (s *Scheduler) runQualityLoop(ctx context.Context) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(s.cfg.DataQualityReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.deps.Quality.ReconcileAll(ctx, time.Now()); err != nil {
				logger.Error(err, "reconciling pricing data quality")
			}
		}
	}
}

func (s *Scheduler) runReplicaLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReplicaCoordinatorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.Replica.Tick(ctx)
		}
	}
}
