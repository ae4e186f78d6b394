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
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
)

// RiskTracker is the subset of the Global Risk Tracker the filter stage
// needs (§4.4); satisfied by *risk.Tracker.
type RiskTracker interface {
	IsPoolSafe(ctx context.Context, poolID string, now time.Time) (bool, []domain.RiskEvent, error)
}

// GlobalRiskFilter invalidates any candidate whose pool carries active
// production interruption events (§4.3.5).
type GlobalRiskFilter struct {
	Tracker RiskTracker
}

func (GlobalRiskFilter) Name() string { return "global-risk-filter" }

func (g *GlobalRiskFilter) Run(ctx context.Context, pc *Context) error {
	now := time.Now()
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		pool, err := cand.Pool()
		if err != nil {
			cand.Invalidate("invalid pool id")
			continue
		}
		safe, events, err := g.Tracker.IsPoolSafe(ctx, pool.ID(), now)
		if err != nil {
			pc.RecordError("global-risk-filter", err)
			continue
		}
		if !safe {
			cand.Invalidate(fmt.Sprintf("poisoned pool: %d active events", len(events)))
		}
	}
	return nil
}
