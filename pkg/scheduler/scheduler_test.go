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

package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herdguard/herdguard/pkg/scheduler"
)

type fakeScraper struct {
	calls   atomic.Int32
	regions sync.Map
}

func (f *fakeScraper) ScrapeRegion(_ context.Context, region string) error {
	f.calls.Add(1)
	f.regions.Store(region, true)
	return nil
}

type fakeRiskCleaner struct{ calls atomic.Int32 }

func (f *fakeRiskCleaner) Cleanup(_ context.Context, _ time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, nil
}

type fakeQualityReconciler struct{ calls atomic.Int32 }

func (f *fakeQualityReconciler) ReconcileAll(_ context.Context, _ time.Time) error {
	f.calls.Add(1)
	return nil
}

type fakeReplicaTicker struct{ calls atomic.Int32 }

func (f *fakeReplicaTicker) Tick(_ context.Context) {
	f.calls.Add(1)
}

func TestSchedulerRunsEachJobOnItsOwnCadence(t *testing.T) {
	scraper := &fakeScraper{}
	risk := &fakeRiskCleaner{}
	quality := &fakeQualityReconciler{}
	replica := &fakeReplicaTicker{}

	s := scheduler.New(scheduler.Deps{
		Scraper: scraper,
		Risk:    risk,
		Quality: quality,
		Replica: replica,
	}, scheduler.Config{
		Regions:                      []string{"us-east-1"},
		ScrapeInterval:               5 * time.Millisecond,
		RiskCleanupInterval:          5 * time.Millisecond,
		DataQualityReconcileInterval: 5 * time.Millisecond,
		ReplicaCoordinatorInterval:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	if scraper.calls.Load() == 0 {
		t.Errorf("expected scrape job to run at least once")
	}
	if risk.calls.Load() == 0 {
		t.Errorf("expected risk cleanup job to run at least once")
	}
	if quality.calls.Load() == 0 {
		t.Errorf("expected data quality job to run at least once")
	}
	if replica.calls.Load() == 0 {
		t.Errorf("expected replica coordinator job to run at least once")
	}
}

func TestSchedulerScrapesEveryRegionPerTick(t *testing.T) {
	scraper := &fakeScraper{}
	s := scheduler.New(scheduler.Deps{Scraper: scraper}, scheduler.Config{
		Regions:        []string{"us-east-1", "us-west-2", "eu-central-1"},
		ScrapeInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, region := range []string{"us-east-1", "us-west-2", "eu-central-1"} {
		if _, ok := scraper.regions.Load(region); !ok {
			t.Errorf("expected region %s to have been scraped", region)
		}
	}
}

func TestSchedulerSkipsOmittedJobs(t *testing.T) {
	replica := &fakeReplicaTicker{}
	s := scheduler.New(scheduler.Deps{Replica: replica}, scheduler.Config{
		ReplicaCoordinatorInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if replica.calls.Load() == 0 {
		t.Errorf("expected replica job to have run")
	}
}
