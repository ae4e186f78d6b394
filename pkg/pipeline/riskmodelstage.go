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

	"github.com/herdguard/herdguard/pkg/providers"
)

// fallbackCrashProbability is assigned to every candidate when the risk
// model is unavailable (§4.3.6): a documented, deliberately pessimistic
// middle ground rather than a failure.
const fallbackCrashProbability = 0.50

// RiskModelStage calls the RiskModel on every valid candidate and records
// min/avg/max crash probability to the trace (§4.3.6).
type RiskModelStage struct {
	Model providers.RiskModel
}

func (RiskModelStage) Name() string { return "risk-model" }

func (r *RiskModelStage) Run(ctx context.Context, pc *Context) error {
	valid := pc.ValidCandidates()
	if len(valid) == 0 {
		return nil
	}

	predictions, err := r.Model.Predict(ctx, valid)
	fallback := err != nil
	if fallback {
		pc.RecordError("risk-model", err)
	}

	var min, max, sum float64
	var n int
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		pool, perr := cand.Pool()
		prob, ok := predictions[pool.ID()]
		if fallback || perr != nil || !ok {
			prob = fallbackCrashProbability
		}
		cand.CrashProbability = prob
		cand.HasCrashProbability = true

		if n == 0 || prob < min {
			min = prob
		}
		if n == 0 || prob > max {
			max = prob
		}
		sum += prob
		n++
	}

	info := map[string]any{"count": n}
	if n > 0 {
		info["min"] = min
		info["max"] = max
		info["avg"] = sum / float64(n)
	}
	pc.Record("risk-model", info)
	return nil
}
