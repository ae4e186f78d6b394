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
	"sort"

	"github.com/herdguard/herdguard/pkg/domain"
)

// YieldRanking computes the TCO-based yieldScore and ranks valid candidates
// by it, descending (§4.3.9). Invalid candidates keep their slot in
// pc.Candidates; only pc.Ranked is reordered.
type YieldRanking struct{}

func (YieldRanking) Name() string { return "yield-ranking" }

func (YieldRanking) Run(_ context.Context, pc *Context) error {
	var maxTco float64
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		tco := cand.SpotPrice + cand.WasteCost
		if tco > maxTco {
			maxTco = tco
		}
	}

	ranked := pc.ValidCandidates()
	for i := range ranked {
		cand := &ranked[i]
		tco := cand.SpotPrice + cand.WasteCost
		var costEff float64
		if maxTco > 0 {
			costEff = 1 - tco/maxTco
		}
		safety := 1 - cand.CrashProbability
		cand.YieldScore = 100 * costEff * safety
	}

	// Ties on yieldScore break on lowest spot price, then lexicographically
	// smallest pool-id (AZ then type), so that ranking is deterministic
	// regardless of the input candidate order (§8 round-trip property: the
	// same frozen inputs must yield the same selected candidate every run,
	// and K8s-mode candidate order comes from a map iteration).
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.YieldScore != b.YieldScore {
			return a.YieldScore > b.YieldScore
		}
		if a.SpotPrice != b.SpotPrice {
			return a.SpotPrice < b.SpotPrice
		}
		return candidatePoolID(a) < candidatePoolID(b)
	})

	// Propagate the computed yieldScore back onto pc.Candidates so the
	// underlying slice reflects the same values ranked uses.
	byPool := make(map[string]float64, len(ranked))
	for _, cand := range ranked {
		pool, err := cand.Pool()
		if err != nil {
			continue
		}
		byPool[pool.ID()] = cand.YieldScore
	}
	for i := range pc.Candidates {
		cand := &pc.Candidates[i]
		if !cand.IsValid {
			continue
		}
		pool, err := cand.Pool()
		if err != nil {
			continue
		}
		if score, ok := byPool[pool.ID()]; ok {
			cand.YieldScore = score
		}
	}

	pc.Ranked = ranked
	return nil
}

// candidatePoolID returns cand's pool-id for tie-break comparisons, falling
// back to the AZ/type pair verbatim if it fails NewPool's wire-format
// validation so the comparator still stays total and deterministic.
func candidatePoolID(cand *domain.Candidate) string {
	if pool, err := cand.Pool(); err == nil {
		return pool.ID()
	}
	return cand.AZ + ":" + cand.InstanceType
}
