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

package replica

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/herdguard/herdguard/pkg/domain"
)

func TestReplicaCoordinatorSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ReplicaCoordinator")
}

var _ = Describe("reactToRiskEvents", func() {
	var (
		agent    domain.Agent
		agents   *fakeAgentStore
		replicas *fakeReplicaStore
		tracker  *fakeRiskTracker
		prices   *fakePrices
		metadata *fakeMetadata
		c        *Coordinator
	)

	BeforeEach(func() {
		agent = domain.Agent{ID: agentID, CurrentPoolID: "us-east-1a:m5.large", AutoSwitchEnabled: true}
		agents = &fakeAgentStore{agents: []domain.Agent{agent}}
		replicas = &fakeReplicaStore{byAgent: map[string][]domain.Replica{}}
		prices = &fakePrices{byRegion: map[string]map[domain.Pool]float64{
			"us-east-1": {
				{AZ: "us-east-1a", Type: "m5.large"}: 0.05,
				{AZ: "us-east-1b", Type: "m5.large"}: 0.03,
			},
		}}
		metadata = uniformMetadata("m5.large")
	})

	JustBeforeEach(func() {
		c = New(Deps{Agents: agents, Replicas: replicas, Risk: tracker, Prices: prices, Metadata: metadata})
		c.Tick(context.Background())
	})

	When("only a rebalance notice is active", func() {
		BeforeEach(func() {
			tracker = &fakeRiskTracker{unsafe: map[string][]domain.RiskEvent{
				"us-east-1a:m5.large": {{Kind: domain.RiskEventRebalanceNotice}},
			}}
		})

		It("creates a standby replica instead of promoting", func() {
			Expect(replicas.created).To(HaveLen(1))
			Expect(replicas.created[0].Status).To(Equal(domain.ReplicaLaunching))
		})
	})

	When("both a termination notice and a rebalance notice are active for the same pool", func() {
		BeforeEach(func() {
			replicas.byAgent[agentID] = []domain.Replica{
				{ID: "r-ready", Status: domain.ReplicaReady, PoolID: "us-east-1b:m5.large"},
			}
			tracker = &fakeRiskTracker{unsafe: map[string][]domain.RiskEvent{
				"us-east-1a:m5.large": {
					{Kind: domain.RiskEventRebalanceNotice},
					{Kind: domain.RiskEventTerminationNotice},
				},
			}}
		})

		It("takes the termination failover path and does not also create a standby", func() {
			Expect(replicas.created).To(BeEmpty())
			Expect(replicas.updated).To(HaveLen(1))
			Expect(replicas.updated[0].ID).To(Equal("r-ready"))
			Expect(replicas.updated[0].Status).To(Equal(domain.ReplicaPromoted))
		})
	})

	When("neither event is active", func() {
		BeforeEach(func() {
			tracker = &fakeRiskTracker{unsafe: map[string][]domain.RiskEvent{}}
		})

		It("leaves the agent's replicas untouched", func() {
			Expect(replicas.created).To(BeEmpty())
			Expect(replicas.updated).To(BeEmpty())
		})
	})
})

var _ = Describe("bestPromotionCandidate", func() {
	It("prefers a READY replica over any SYNCING one", func() {
		candidates := []domain.Replica{
			{ID: "syncing-far", Status: domain.ReplicaSyncing, SyncProgress: 0.9},
			{ID: "ready", Status: domain.ReplicaReady},
		}
		got := bestPromotionCandidate(candidates)
		Expect(got).NotTo(BeNil())
		Expect(got.ID).To(Equal("ready"))
	})

	It("requires SYNCING progress over 50% and picks the furthest along", func() {
		candidates := []domain.Replica{
			{ID: "syncing-low", Status: domain.ReplicaSyncing, SyncProgress: 0.3},
			{ID: "syncing-high", Status: domain.ReplicaSyncing, SyncProgress: 0.75},
		}
		got := bestPromotionCandidate(candidates)
		Expect(got).NotTo(BeNil())
		Expect(got.ID).To(Equal("syncing-high"))
	})

	It("returns nil when no candidate clears the bar", func() {
		candidates := []domain.Replica{
			{ID: "syncing-low", Status: domain.ReplicaSyncing, SyncProgress: 0.2},
			{ID: "launching", Status: domain.ReplicaLaunching},
		}
		Expect(bestPromotionCandidate(candidates)).To(BeNil())
	})
})

var _ = Describe("handleTermination idempotency", func() {
	It("leaves an already-promoted replica within the recovery window alone", func() {
		now := time.Now()
		promotedAt := now.Add(-30 * time.Minute)
		replicaID := "r-current"
		agent := domain.Agent{ID: agentID, CurrentReplicaID: &replicaID}
		replicas := &fakeReplicaStore{byAgent: map[string][]domain.Replica{
			agentID: {{ID: replicaID, Status: domain.ReplicaPromoted, PromotedAt: &promotedAt}},
		}}
		c := New(Deps{Replicas: replicas})

		c.handleTermination(context.Background(), agent, replicas.byAgent[agentID], now)

		Expect(replicas.updated).To(BeEmpty())
		Expect(replicas.created).To(BeEmpty())
	})
})
