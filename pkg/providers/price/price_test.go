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

package price_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"

	"github.com/herdguard/herdguard/pkg/errorkind"
	priceprovider "github.com/herdguard/herdguard/pkg/providers/price"
)

type fakeEC2 struct {
	spotHistory *ec2.DescribeSpotPriceHistoryOutput
	err         error
}

func (f *fakeEC2) DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.spotHistory, nil
}

func (f *fakeEC2) DescribeInstanceTypeOfferings(ctx context.Context, params *ec2.DescribeInstanceTypeOfferingsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error) {
	return &ec2.DescribeInstanceTypeOfferingsOutput{}, nil
}

type fakePricing struct {
	products *pricing.GetProductsOutput
	err      error
}

func (f *fakePricing) GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

const onDemandJSON = `{"terms":{"onDemand":{"ABC":{"priceDimensions":{"XYZ":{"pricePerUnit":{"USD":"0.096"}}}}}}}`

func TestSpotPriceFromHistory(t *testing.T) {
	now := time.Now()
	ec2api := &fakeEC2{spotHistory: &ec2.DescribeSpotPriceHistoryOutput{
		SpotPriceHistory: []ec2types.SpotPrice{
			{
				AvailabilityZone: aws.String("us-east-1a"),
				InstanceType:     ec2types.InstanceTypeC5Large,
				SpotPrice:        aws.String("0.028"),
				Timestamp:        &now,
			},
		},
	}}
	p := priceprovider.New(ec2api, &fakePricing{}, "us-east-1")

	got, err := p.Spot(context.Background(), "c5.large", "us-east-1a")
	if err != nil {
		t.Fatalf("Spot() error: %v", err)
	}
	if got != 0.028 {
		t.Errorf("got %f, want 0.028", got)
	}
}

func TestSpotPriceMissingReturnsDataGap(t *testing.T) {
	ec2api := &fakeEC2{spotHistory: &ec2.DescribeSpotPriceHistoryOutput{}}
	p := priceprovider.New(ec2api, &fakePricing{}, "us-east-1")

	_, err := p.Spot(context.Background(), "c5.large", "us-east-1a")
	if !errorkind.Is(err, errorkind.DataGap) {
		t.Fatalf("expected DataGap error, got %v", err)
	}
}

func TestOnDemandPriceParsedFromPriceList(t *testing.T) {
	ec2api := &fakeEC2{}
	pricingAPI := &fakePricing{products: &pricing.GetProductsOutput{
		PriceList: []string{onDemandJSON},
	}}
	p := priceprovider.New(ec2api, pricingAPI, "us-east-1")

	got, err := p.OnDemand(context.Background(), "c5.large")
	if err != nil {
		t.Fatalf("OnDemand() error: %v", err)
	}
	if got != 0.096 {
		t.Errorf("got %f, want 0.096", got)
	}
}

func TestOnDemandPriceIsCached(t *testing.T) {
	ec2api := &fakeEC2{}
	pricingAPI := &fakePricing{products: &pricing.GetProductsOutput{
		PriceList: []string{onDemandJSON},
	}}
	p := priceprovider.New(ec2api, pricingAPI, "us-east-1")

	if _, err := p.OnDemand(context.Background(), "c5.large"); err != nil {
		t.Fatalf("first OnDemand() error: %v", err)
	}
	// Second call must not need the pricing API at all; simulate by erroring it.
	pricingAPI.err = errorkind.New(errorkind.TransientUpstream, "pricing api down")
	got, err := p.OnDemand(context.Background(), "c5.large")
	if err != nil {
		t.Fatalf("expected cached result, got error: %v", err)
	}
	if got != 0.096 {
		t.Errorf("got %f, want cached 0.096", got)
	}
}
