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
)

// RightsizeExpander is K8s-only (§4.3.4). The Input Adapter already admits
// upsized candidates when min-vcpu is set; this stage only validates that
// an upsize-only candidate doesn't exceed requested.vcpu × multiplier and
// carries the UpsizeOnly flag so later cost math accounts for the waste.
type RightsizeExpander struct{}

func (RightsizeExpander) Name() string { return "rightsize-expander" }

func (RightsizeExpander) Run(_ context.Context, pc *Context) error {
	if pc.Input.Mode != domain.InputModeK8s || pc.Input.MinVCPU == nil {
		return nil
	}
	ceiling := float64(pc.Input.VCPU) * pc.Thresholds.RightsizeMultiplier
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid || !cand.UpsizeOnly {
			continue
		}
		if float64(cand.VCPU) > ceiling {
			cand.Invalidate("upsize candidate exceeds rightsize multiplier ceiling")
		}
	}
	return nil
}
