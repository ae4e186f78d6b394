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

package domain

// Architecture is a CPU instruction-set family, as reported by the
// InstanceMetadataProvider and requested by a K8s workload.
type Architecture string

const (
	ArchX86_64 Architecture = "x86_64"
	ArchARM64  Architecture = "arm64"
)

// Candidate is a pipeline-scoped (instance-type, AZ) evaluation record. It
// starts out with just the hardware/pricing fields from the Input Adapter
// and is progressively enriched by later stages (§3.2).
type Candidate struct {
	InstanceType string
	AZ           string
	SpotPrice    float64
	OnDemand     float64
	VCPU         int
	MemoryGB     float64
	Architecture Architecture

	// Filled in by later stages.
	HistoricInterruptRate float64
	HasInterruptRate      bool
	CrashProbability      float64
	HasCrashProbability   bool
	DiscountDepth         float64
	WasteCost             float64
	YieldScore            float64
	UpsizeOnly            bool

	// IsValid starts true and is flipped false by any filter stage; once
	// false later stages skip the candidate but the slot is retained so
	// position-preserving operations (§4.3.9) still work.
	IsValid bool
	// FilterReason accumulates every reason a candidate was invalidated,
	// not just the first (see SPEC_FULL.md §3.6).
	FilterReason []string
}

// Pool returns the (AZ, instance-type) pair this candidate was evaluated at.
func (c Candidate) Pool() (Pool, error) {
	return NewPool(c.AZ, c.InstanceType)
}

// Invalidate marks the candidate invalid and appends reason to its filter
// trail. A candidate may be invalidated by more than one stage.
func (c *Candidate) Invalidate(reason string) {
	c.IsValid = false
	c.FilterReason = append(c.FilterReason, reason)
}

// ComputeDiscountDepth sets DiscountDepth = 1 - spot/onDemand (§3.2). When
// OnDemand is zero the discount is undefined and left at zero rather than
// dividing by zero.
func (c *Candidate) ComputeDiscountDepth() {
	if c.OnDemand <= 0 {
		c.DiscountDepth = 0
		return
	}
	c.DiscountDepth = 1 - c.SpotPrice/c.OnDemand
}
