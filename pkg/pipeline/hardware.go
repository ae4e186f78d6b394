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

// HardwareFilter re-checks architecture and cpu/mem floors (§4.3.2). It is a
// no-op in test mode, since the single candidate is already the host's own
// hardware; in K8s mode it's a defensive second pass in case an upstream
// relaxation let something slip through.
type HardwareFilter struct{}

func (HardwareFilter) Name() string { return "hardware-filter" }

func (HardwareFilter) Run(_ context.Context, pc *Context) error {
	if pc.Input.Mode != domain.InputModeK8s {
		return nil
	}
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		if !satisfiesFloors(toMetadataView(*cand), pc.Input) {
			cand.Invalidate("hardware floor not satisfied")
		}
	}
	return nil
}
