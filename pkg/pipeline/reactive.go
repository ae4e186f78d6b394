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
	"github.com/herdguard/herdguard/pkg/providers"
)

// ReactiveOverride renders the final verdict (§4.3.10). It checks the
// SignalProvider first, short-circuiting ranking on a live AWS signal, and
// otherwise falls back to the ranked candidate list built by YieldRanking.
type ReactiveOverride struct {
	Signals providers.SignalProvider
}

func (ReactiveOverride) Name() string { return "reactive-override" }

func (r *ReactiveOverride) Run(ctx context.Context, pc *Context) error {
	signal := r.Signals.Poll(ctx)
	pc.AWSSignal = signal

	switch signal {
	case domain.SignalTermination:
		pc.Verdict = domain.VerdictEvacuate
		pc.Reason = "AWS termination notice"
		if current := pc.currentCandidate(); current != nil {
			pc.Selected = current
		}
		return nil
	case domain.SignalRebalance:
		pc.Verdict = domain.VerdictDrain
		pc.Reason = "AWS rebalance recommendation"
		if top := pc.topRanked(); top != nil {
			pc.Selected = top
		}
		return nil
	}

	if pc.Input.Mode == domain.InputModeK8s {
		top := pc.topRanked()
		if top == nil {
			pc.Verdict = domain.VerdictStay
			pc.Reason = "no alternatives"
			return nil
		}
		pc.Verdict = domain.VerdictSwitch
		pc.Selected = top
		pc.Reason = "top-ranked candidate selected"
		r.normalizeStayIfCurrent(pc)
		return nil
	}

	current := pc.currentCandidate()
	if current != nil && current.HasCrashProbability && current.CrashProbability < pc.Thresholds.MaxCrashProbability {
		pc.Verdict = domain.VerdictStay
		pc.Selected = current
		pc.Reason = "current pool within safety threshold"
		return nil
	}

	top := pc.topRanked()
	if top == nil {
		pc.Verdict = domain.VerdictStay
		pc.Reason = "no alternatives"
		if current != nil {
			pc.Selected = current
		}
		return nil
	}
	pc.Verdict = domain.VerdictSwitch
	pc.Selected = top
	pc.Reason = "crash probability over threshold; switching to top-ranked candidate"
	r.normalizeStayIfCurrent(pc)
	return nil
}

// normalizeStayIfCurrent implements "SWITCH where target == current is
// normalized to STAY" (§4.3.10).
func (r *ReactiveOverride) normalizeStayIfCurrent(pc *Context) {
	if pc.Verdict != domain.VerdictSwitch || pc.Selected == nil {
		return
	}
	current := pc.currentCandidate()
	if current == nil {
		return
	}
	if current.InstanceType == pc.Selected.InstanceType && current.AZ == pc.Selected.AZ {
		pc.Verdict = domain.VerdictStay
		pc.Reason = "top-ranked candidate is the current pool"
	}
}

// currentCandidate returns the candidate matching the host's current
// (type, AZ), when the input supplies one (test mode, or a K8s input that
// happens to carry the workload's current placement).
func (c *Context) currentCandidate() *domain.Candidate {
	if c.Input.CurrentType == "" || c.Input.CurrentAZ == "" {
		return nil
	}
	for i := range c.Candidates {
		cand := &c.Candidates[i]
		if cand.InstanceType == c.Input.CurrentType && cand.AZ == c.Input.CurrentAZ {
			return cand
		}
	}
	return nil
}

// topRanked returns the highest-yieldScore valid candidate, or nil.
func (c *Context) topRanked() *domain.Candidate {
	if len(c.Ranked) == 0 {
		return nil
	}
	top := c.Ranked[0]
	return &top
}
