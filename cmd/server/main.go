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

// Command server runs the control-plane process of §4.9: the agent-facing
// HTTP API, the background scrape/risk-cleanup/data-quality/replica jobs,
// the k8s-mode decision pipeline sweep, and the agent-expiry sweep, all
// sharing one Postgres pool and one Redis client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	"golang.org/x/sync/errgroup"

	"github.com/herdguard/herdguard/pkg/config"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/metrics"
	pricingpkg "github.com/herdguard/herdguard/pkg/pricing"
	"github.com/herdguard/herdguard/pkg/providers/advisor"
	"github.com/herdguard/herdguard/pkg/providers/metadata"
	"github.com/herdguard/herdguard/pkg/providers/price"
	"github.com/herdguard/herdguard/pkg/providers/riskmodel"
	signalprovider "github.com/herdguard/herdguard/pkg/providers/signal"
	"github.com/herdguard/herdguard/pkg/replica"
	"github.com/herdguard/herdguard/pkg/risk"
	"github.com/herdguard/herdguard/pkg/scheduler"
	"github.com/herdguard/herdguard/pkg/server"
	"github.com/herdguard/herdguard/pkg/store"
)

// pricingAPIRegion is the nearest AWS Pricing API endpoint; the Pricing API
// itself is only served from a handful of regions regardless of which
// regions this process scrapes (see pkg/providers/price.New's doc comment).
const pricingAPIRegion = "us-east-1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.Build(cfg.LogLevel, cfg.LogFormat, "server")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, logger)

	if err := store.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	db, err := store.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer db.Close()

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("opening redis client: %w", err)
	}
	defer redisClient.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	ec2Client := ec2.NewFromConfig(awsCfg)
	pricingClient := awspricing.NewFromConfig(awsCfg, func(o *awspricing.Options) { o.Region = pricingAPIRegion })

	agents := store.NewAgentStore(db)
	commands := store.NewCommandStore(db)
	replicas := store.NewReplicaStore(db)
	pricingRaw := store.NewPricingRawStore(db)
	pricingClean := store.NewPricingStore(db)
	riskStore := store.NewRiskStore(db)
	priceCache := store.NewPriceCache(redisClient)
	riskTracker := risk.NewTracker(riskStore)

	region := ""
	if len(cfg.Regions) > 0 {
		region = cfg.Regions[0]
	}
	priceProvider := price.New(ec2Client, pricingClient, region)
	metadataProvider := metadata.New(ec2Client)
	advisorProvider := advisor.New(region)
	go advisorProvider.RefreshLoop(ctx)
	signalProvider := signalprovider.New(imds.NewFromConfig(awsCfg))
	riskModel := riskmodel.New()

	collectors := metrics.NewCollectors()

	ingester := pricingpkg.NewIngester(pricingRaw, pricingClean)
	scraper := pricingpkg.NewScraper(priceProvider, ingester)
	reconciler := pricingpkg.NewReconciler(pricingRaw, pricingClean)

	replicaCoordinator := replica.New(replica.Deps{
		Agents:   agents,
		Replicas: replicas,
		Risk:     riskTracker,
		Prices:   priceProvider,
		Metadata: metadataProvider,
		Metrics:  collectors,
	})

	sched := scheduler.New(scheduler.Deps{
		Scraper: scraper,
		Risk:    riskTracker,
		Quality: reconciler,
		Replica: replicaCoordinator,
		Metrics: collectors,
	}, scheduler.Config{
		Regions:                      cfg.Regions,
		ScrapeInterval:               cfg.PricingScrapeInterval,
		RiskCleanupInterval:          cfg.RiskSweepInterval,
		DataQualityReconcileInterval: cfg.DataQualityReconcileInterval,
		ReplicaCoordinatorInterval:   cfg.ReplicaCoordinatorInterval,
	})

	srv := server.New(cfg, server.Deps{
		DB:          db,
		Redis:       redisClient,
		Agents:      agents,
		Commands:    commands,
		Replicas:    replicas,
		Pricing:     pricingClean,
		PriceCache:  priceCache,
		RiskTracker: riskTracker,
		Prices:      priceProvider,
		Metadata:    metadataProvider,
		Advisor:     advisorProvider,
		Signals:     signalProvider,
		Risk:        riskModel,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		replicaCoordinator.RunLoop(ctx, cfg.ReplicaCoordinatorInterval)
		return nil
	})
	g.Go(func() error {
		srv.RunLoop(ctx, cfg.RiskSweepInterval, cfg.HeartbeatInterval)
		return nil
	})
	g.Go(func() error {
		srv.RunK8sPipelineLoop(ctx, cfg.K8sPipelineInterval)
		return nil
	})
	g.Go(func() error {
		return runHTTPServer(ctx, cfg.ListenAddr(), srv)
	})
	g.Go(func() error {
		return runHTTPServer(ctx, cfg.MetricsAddr, collectors.Handler())
	})

	logger.Info("server started", "addr", cfg.ListenAddr(), "metrics-addr", cfg.MetricsAddr)
	return g.Wait()
}

// runHTTPServer serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler) error {
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
