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

// BinPacking computes the waste a candidate's unused capacity represents
// (§4.3.8). Test mode leaves wasteCost at zero, since the single candidate
// is exactly the host's current instance.
type BinPacking struct{}

func (BinPacking) Name() string { return "bin-packing" }

func (BinPacking) Run(_ context.Context, pc *Context) error {
	if pc.Input.Mode != domain.InputModeK8s {
		return nil
	}
	requested := float64(pc.Input.VCPU)
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid || cand.VCPU == 0 {
			continue
		}
		waste := cand.SpotPrice * (1 - requested/float64(cand.VCPU))
		if waste < 0 {
			waste = 0
		}
		cand.WasteCost = waste
	}
	return nil
}
