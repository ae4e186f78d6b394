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

// Package providers declares the pluggable adapter interfaces the pipeline
// stages call: spot/on-demand pricing, instance metadata, historic interrupt
// rates, live AWS interruption signals, and crash-probability inference.
// Every provider is stateless and synchronously callable (§4.1); the
// concrete AWS-backed implementations live in sibling packages under
// pkg/providers/<name>.
package providers

import (
	"context"

	"github.com/herdguard/herdguard/pkg/domain"
)

// InstanceMetadata is the shape returned for one instance type (§4.1).
type InstanceMetadata struct {
	VCPU         int
	MemoryGB     float64
	Architecture domain.Architecture
}

// PriceProvider resolves spot and on-demand prices for a pool. Implementers
// return an errorkind.DataGap-kind error ("NoData") when the pool is unknown.
type PriceProvider interface {
	Spot(ctx context.Context, instanceType, az string) (float64, error)
	OnDemand(ctx context.Context, instanceType string) (float64, error)
	// BulkSpot resolves spot prices for every (type, az) pair in region at
	// once, for the K8s input adapter's candidate enumeration (§4.3.1).
	BulkSpot(ctx context.Context, region string) (map[domain.Pool]float64, error)
}

// InstanceMetadataProvider resolves hardware shape for an instance type.
// Implementers return an errorkind.NotFound-kind error ("UnknownType") when
// the type is unrecognized.
type InstanceMetadataProvider interface {
	Metadata(ctx context.Context, instanceType string) (InstanceMetadata, error)
	// BulkMetadata resolves metadata for every instance type available in
	// region, for K8s candidate enumeration.
	BulkMetadata(ctx context.Context, region string) (map[string]InstanceMetadata, error)
}

// SpotAdvisor resolves the historic interruption rate for a pool.
type SpotAdvisor interface {
	// InterruptRate returns a rate in [0,1]. Implementers fall back to
	// defaultRate when the pool has no recorded history ("UnknownPool").
	InterruptRate(ctx context.Context, instanceType, az string, defaultRate float64) (float64, error)
}

// SignalProvider polls the local cloud metadata service for interruption
// signals. Timeouts map to domain.SignalNone: signals are advisory and must
// never manufacture a false positive (§4.1, §6.2).
type SignalProvider interface {
	Poll(ctx context.Context) domain.AWSSignal
}

// RiskModel predicts crash probability per candidate pool. Missing entries
// default to 0.5 by caller convention (§4.1).
type RiskModel interface {
	// FeatureVersion identifies the feature schema this model expects, so
	// callers can detect drift between the pipeline's candidate shape and
	// the model's training-time assumptions.
	FeatureVersion() string
	Predict(ctx context.Context, candidates []domain.Candidate) (map[string]float64, error)
}
