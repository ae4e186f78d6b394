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

// Package metadata implements providers.InstanceMetadataProvider against the
// EC2 DescribeInstanceTypes API.
package metadata

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	gocache "github.com/patrickmn/go-cache"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/providers"
)

// cacheTTL is long-lived relative to pricing: hardware shape for a type
// essentially never changes within a region.
const cacheTTL = 24 * time.Hour

// EC2API is the subset of the EC2 client this provider calls.
type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
}

// Provider implements providers.InstanceMetadataProvider.
type Provider struct {
	ec2API EC2API
	cache  *gocache.Cache
}

// New builds a Provider.
func New(ec2API EC2API) *Provider {
	return &Provider{
		ec2API: ec2API,
		cache:  gocache.New(cacheTTL, cacheTTL),
	}
}

// Metadata implements providers.InstanceMetadataProvider.
func (p *Provider) Metadata(ctx context.Context, instanceType string) (providers.InstanceMetadata, error) {
	if v, ok := p.cache.Get(instanceType); ok {
		return v.(providers.InstanceMetadata), nil
	}

	out, err := p.ec2API.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	})
	if err != nil {
		return providers.InstanceMetadata{}, errorkind.Wrap(errorkind.TransientUpstream, err, "instance-type", instanceType)
	}
	if len(out.InstanceTypes) == 0 {
		return providers.InstanceMetadata{}, errorkind.New(errorkind.NotFound, "unknown instance type %s", instanceType)
	}

	md := toMetadata(out.InstanceTypes[0])
	p.cache.SetDefault(instanceType, md)
	return md, nil
}

// BulkMetadata implements providers.InstanceMetadataProvider for the K8s
// input adapter's candidate enumeration (§4.3.1).
func (p *Provider) BulkMetadata(ctx context.Context, region string) (map[string]providers.InstanceMetadata, error) {
	out, err := p.ec2API.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{})
	if err != nil {
		return nil, errorkind.Wrap(errorkind.TransientUpstream, err, "region", region)
	}

	result := make(map[string]providers.InstanceMetadata, len(out.InstanceTypes))
	for _, it := range out.InstanceTypes {
		md := toMetadata(it)
		result[string(it.InstanceType)] = md
		p.cache.SetDefault(string(it.InstanceType), md)
	}
	return result, nil
}

func toMetadata(it ec2types.InstanceTypeInfo) providers.InstanceMetadata {
	md := providers.InstanceMetadata{Architecture: domain.ArchX86_64}
	if it.VCpuInfo != nil && it.VCpuInfo.DefaultVCpus != nil {
		md.VCPU = int(*it.VCpuInfo.DefaultVCpus)
	}
	if it.MemoryInfo != nil && it.MemoryInfo.SizeInMiB != nil {
		md.MemoryGB = float64(*it.MemoryInfo.SizeInMiB) / 1024
	}
	for _, arch := range it.ProcessorInfo.SupportedArchitectures {
		if arch == ec2types.ArchitectureTypeArm64 {
			md.Architecture = domain.ArchARM64
		}
	}
	return md
}
