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
)

// SafetyGate invalidates any candidate with no crash probability assigned,
// or one over the configured ceiling (§4.3.7).
type SafetyGate struct{}

func (SafetyGate) Name() string { return "safety-gate" }

func (SafetyGate) Run(_ context.Context, pc *Context) error {
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		if !cand.HasCrashProbability {
			cand.Invalidate("no crash probability assigned")
			continue
		}
		if cand.CrashProbability > pc.Thresholds.MaxCrashProbability {
			cand.Invalidate(fmt.Sprintf("crash probability over ceiling (%.2f > %.2f)", cand.CrashProbability, pc.Thresholds.MaxCrashProbability))
		}
	}
	return nil
}
