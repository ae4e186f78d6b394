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

package pipeline

import (
	"context"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/providers"
)

// SingleInstanceInput is the Input Adapter for mode=test (§4.3.1): a single
// candidate, the host's own (type, AZ), enriched via the price and metadata
// providers.
type SingleInstanceInput struct {
	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
}

func (s *SingleInstanceInput) Name() string { return "input" }

func (s *SingleInstanceInput) Run(ctx context.Context, pc *Context) error {
	in := pc.Input
	if in.CurrentType == "" || in.CurrentAZ == "" {
		return errorkind.New(errorkind.Validation, "InvalidInput: current instance type and AZ are required in test mode")
	}

	meta, err := s.Metadata.Metadata(ctx, in.CurrentType)
	if err != nil {
		return err
	}
	spot, err := s.Prices.Spot(ctx, in.CurrentType, in.CurrentAZ)
	if err != nil {
		return err
	}
	onDemand, err := s.Prices.OnDemand(ctx, in.CurrentType)
	if err != nil {
		return err
	}

	cand := domain.Candidate{
		InstanceType: in.CurrentType,
		AZ:           in.CurrentAZ,
		SpotPrice:    spot,
		OnDemand:     onDemand,
		VCPU:         meta.VCPU,
		MemoryGB:     meta.MemoryGB,
		Architecture: meta.Architecture,
		IsValid:      true,
	}
	cand.ComputeDiscountDepth()
	pc.Candidates = []domain.Candidate{cand}
	return nil
}

// K8sInput is the Input Adapter for mode=k8s (§4.3.1): enumerates every
// (type, AZ) in the region whose metadata satisfies the requested floors,
// enriched in bulk via the price and metadata providers. Candidates with no
// known price are dropped silently, per spec.
type K8sInput struct {
	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
}

func (k *K8sInput) Name() string { return "input" }

func (k *K8sInput) Run(ctx context.Context, pc *Context) error {
	in := pc.Input
	if in.Region == "" || in.VCPU <= 0 || in.MemoryGB <= 0 || in.Architecture == "" {
		return errorkind.New(errorkind.Validation, "InvalidInput: region, vcpu, memory-gb and architecture are required in k8s mode")
	}

	allMeta, err := k.Metadata.BulkMetadata(ctx, in.Region)
	if err != nil {
		return err
	}
	spotPrices, err := k.Prices.BulkSpot(ctx, in.Region)
	if err != nil {
		return err
	}

	var candidates []domain.Candidate
	for pool, spot := range spotPrices {
		meta, ok := allMeta[pool.Type]
		if !ok {
			continue
		}
		if !satisfiesFloors(meta, in) {
			continue
		}
		onDemand, err := k.Prices.OnDemand(ctx, pool.Type)
		if err != nil {
			// Missing prices drop the candidate silently (§4.3.1).
			continue
		}

		cand := domain.Candidate{
			InstanceType: pool.Type,
			AZ:           pool.AZ,
			SpotPrice:    spot,
			OnDemand:     onDemand,
			VCPU:         meta.VCPU,
			MemoryGB:     meta.MemoryGB,
			Architecture: meta.Architecture,
			IsValid:      true,
		}
		if in.MinVCPU != nil && meta.VCPU > in.VCPU {
			cand.UpsizeOnly = true
		}
		cand.ComputeDiscountDepth()
		candidates = append(candidates, cand)
	}
	pc.Candidates = candidates
	return nil
}

func toMetadataView(cand domain.Candidate) providers.InstanceMetadata {
	return providers.InstanceMetadata{
		VCPU:         cand.VCPU,
		MemoryGB:     cand.MemoryGB,
		Architecture: cand.Architecture,
	}
}

func satisfiesFloors(meta providers.InstanceMetadata, in Input) bool {
	if meta.Architecture != in.Architecture {
		return false
	}
	if meta.VCPU < in.VCPU || meta.MemoryGB < in.MemoryGB {
		return false
	}
	if in.MaxVCPU != nil && meta.VCPU > *in.MaxVCPU {
		return false
	}
	return true
}
