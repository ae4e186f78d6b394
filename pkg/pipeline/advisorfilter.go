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
	"fmt"

	"github.com/herdguard/herdguard/pkg/providers"
)

// defaultInterruptRate is the caller-chosen fallback SpotAdvisor.InterruptRate
// uses for an unknown pool (§4.1).
const defaultInterruptRate = 0.10

// SpotAdvisorFilter attaches historicInterruptRate to every valid candidate
// and invalidates those at or above the configured ceiling (§4.3.3).
type SpotAdvisorFilter struct {
	Advisor providers.SpotAdvisor
}

func (SpotAdvisorFilter) Name() string { return "spot-advisor-filter" }

func (s *SpotAdvisorFilter) Run(ctx context.Context, pc *Context) error {
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		rate, err := s.Advisor.InterruptRate(ctx, cand.InstanceType, cand.AZ, defaultInterruptRate)
		if err != nil {
			// DataGap from the advisor still yields a usable default rate;
			// record it and keep going.
			pc.RecordError("spot-advisor-filter", err)
		}
		cand.HistoricInterruptRate = rate
		cand.HasInterruptRate = true
		if rate >= pc.Thresholds.MaxHistoricInterruptRate {
			cand.Invalidate(fmt.Sprintf("historic interrupt rate >= threshold (%.2f >= %.2f)", rate, pc.Thresholds.MaxHistoricInterruptRate))
		}
	}
	return nil
}
