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

// Package price implements providers.PriceProvider against the AWS EC2 spot
// price history API and the AWS Pricing API, fronted by an in-process cache
// so the hot pipeline path never blocks on a cloud round trip.
package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
)

// cacheTTL matches the Agent/Server protocol's KV price cache lifetime
// (§4.5: "updates KV price cache (10-minute TTL)").
const cacheTTL = 10 * time.Minute

// EC2API is the subset of the EC2 client this provider calls, narrowed for
// testability.
type EC2API interface {
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
	DescribeInstanceTypeOfferings(ctx context.Context, params *ec2.DescribeInstanceTypeOfferingsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error)
}

// PricingAPI is the subset of the AWS Pricing client this provider calls.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// Provider implements providers.PriceProvider. Reads are cache-first;
// misses fall through to the cloud API behind a circuit breaker so a
// degraded Pricing/EC2 API can't cascade into pipeline stalls.
type Provider struct {
	ec2API     EC2API
	pricingAPI PricingAPI
	region     string

	spotCache     *gocache.Cache
	onDemandCache *gocache.Cache

	breaker *gobreaker.CircuitBreaker

	mu sync.Mutex
}

// New builds a Provider. region is the EC2 region spot/offering calls query;
// the Pricing API itself is only available from us-east-1/ap-south-1/
// eu-central-1/cn-northwest-1 endpoints and callers are expected to route
// pricingAPI accordingly.
func New(ec2API EC2API, pricingAPI PricingAPI, region string) *Provider {
	return &Provider{
		ec2API:        ec2API,
		pricingAPI:    pricingAPI,
		region:        region,
		spotCache:     gocache.New(cacheTTL, cacheTTL/2),
		onDemandCache: gocache.New(cacheTTL, cacheTTL/2),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "price-provider",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures > 5 },
		}),
	}
}

func spotKey(instanceType, az string) string { return instanceType + ":" + az }

// Spot implements providers.PriceProvider.
func (p *Provider) Spot(ctx context.Context, instanceType, az string) (float64, error) {
	if v, ok := p.spotCache.Get(spotKey(instanceType, az)); ok {
		return v.(float64), nil
	}
	if err := p.refreshSpot(ctx, instanceType); err != nil {
		return 0, err
	}
	if v, ok := p.spotCache.Get(spotKey(instanceType, az)); ok {
		return v.(float64), nil
	}
	return 0, errorkind.New(errorkind.DataGap, "no spot price data for %s in %s", instanceType, az)
}

// OnDemand implements providers.PriceProvider.
func (p *Provider) OnDemand(ctx context.Context, instanceType string) (float64, error) {
	if v, ok := p.onDemandCache.Get(instanceType); ok {
		return v.(float64), nil
	}
	if err := p.refreshOnDemand(ctx, instanceType); err != nil {
		return 0, err
	}
	if v, ok := p.onDemandCache.Get(instanceType); ok {
		return v.(float64), nil
	}
	return 0, errorkind.New(errorkind.DataGap, "no on-demand price data for %s", instanceType)
}

// BulkSpot implements providers.PriceProvider for the K8s input adapter.
func (p *Provider) BulkSpot(ctx context.Context, region string) (map[domain.Pool]float64, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.ec2API.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
			ProductDescriptions: []string{"Linux/UNIX", "Linux/UNIX (Amazon VPC)"},
			StartTime:           aws.Time(time.Now().Add(-time.Hour)),
		})
	})
	if err != nil {
		return nil, errorkind.Wrap(errorkind.TransientUpstream, err, "region", region)
	}

	resp := out.(*ec2.DescribeSpotPriceHistoryOutput)
	result := make(map[domain.Pool]float64, len(resp.SpotPriceHistory))
	for _, sp := range resp.SpotPriceHistory {
		if sp.InstanceType == "" || sp.AvailabilityZone == nil || sp.SpotPrice == nil {
			continue
		}
		pool, err := domain.NewPool(*sp.AvailabilityZone, string(sp.InstanceType))
		if err != nil {
			continue
		}
		var price float64
		if _, err := fmt.Sscanf(*sp.SpotPrice, "%f", &price); err != nil {
			continue
		}
		result[pool] = price
		p.spotCache.SetDefault(spotKey(string(sp.InstanceType), *sp.AvailabilityZone), price)
	}
	return result, nil
}

func (p *Provider) refreshSpot(ctx context.Context, instanceType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.breaker.Execute(func() (any, error) {
		return p.ec2API.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
			InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
			ProductDescriptions: []string{"Linux/UNIX", "Linux/UNIX (Amazon VPC)"},
			StartTime:           aws.Time(time.Now().Add(-time.Hour)),
		})
	})
	if err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err, "instance-type", instanceType)
	}

	resp := out.(*ec2.DescribeSpotPriceHistoryOutput)
	for _, sp := range resp.SpotPriceHistory {
		if sp.AvailabilityZone == nil || sp.SpotPrice == nil {
			continue
		}
		var price float64
		if _, err := fmt.Sscanf(*sp.SpotPrice, "%f", &price); err != nil {
			continue
		}
		p.spotCache.SetDefault(spotKey(instanceType, *sp.AvailabilityZone), price)
	}
	return nil
}

func (p *Provider) refreshOnDemand(ctx context.Context, instanceType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.breaker.Execute(func() (any, error) {
		return p.pricingAPI.GetProducts(ctx, &pricing.GetProductsInput{
			ServiceCode: aws.String("AmazonEC2"),
			Filters:     pricingFilter(instanceType),
		})
	})
	if err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err, "instance-type", instanceType)
	}

	resp := out.(*pricing.GetProductsOutput)
	price, ok := parseOnDemandPrice(resp)
	if !ok {
		return errorkind.New(errorkind.DataGap, "on-demand product not found for %s", instanceType)
	}
	p.onDemandCache.SetDefault(instanceType, price)
	return nil
}
