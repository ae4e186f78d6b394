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

// Package replica implements the Replica Coordinator (§4.6): a server-side
// loop that reacts to active risk events on an agent's current pool by
// creating, promoting, or pruning standby Replicas, and separately keeps
// manual-mode agents holding exactly one active standby.
package replica

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/providers"
)

// recoveryWindow bounds how long a termination is considered still "in
// handling"; beyond it the agent is assumed recovered and the ML-driven
// pipeline regains control (§4.6).
const recoveryWindow = 2 * time.Hour

// AgentStore is the subset of store.AgentStore the Coordinator needs;
// satisfied by *store.AgentStore.
type AgentStore interface {
	OnlineWithReplicaFeatures(ctx context.Context) ([]domain.Agent, error)
	Upsert(ctx context.Context, a domain.Agent) (domain.Agent, error)
}

// ReplicaStore is the subset of store.ReplicaStore the Coordinator needs;
// satisfied by *store.ReplicaStore.
type ReplicaStore interface {
	ForAgent(ctx context.Context, agentID string) ([]domain.Replica, error)
	Create(ctx context.Context, r domain.Replica) (domain.Replica, error)
	UpdateStatus(ctx context.Context, r domain.Replica) error
	DeactivateSiblings(ctx context.Context, agentID, keepID string) error
}

// RiskTracker is the subset of the Global Risk Tracker the Coordinator
// needs; satisfied by *risk.Tracker.
type RiskTracker interface {
	IsPoolSafe(ctx context.Context, poolID string, now time.Time) (bool, []domain.RiskEvent, error)
}

// ActionRecorder observes coordinator actions by kind; satisfied by
// *metrics.Collectors. Nil by default, so the coordinator works without it.
type ActionRecorder interface {
	RecordReplicaAction(action string)
}

// Deps bundles the Coordinator's collaborators.
type Deps struct {
	Agents   AgentStore
	Replicas ReplicaStore
	Risk     RiskTracker
	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
	Metrics  ActionRecorder
}

// record increments Metrics for action if a recorder is wired.
func (c *Coordinator) record(action string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordReplicaAction(action)
	}
}

// Coordinator runs the replica reconciliation loop of §4.6. It carries no
// in-memory dedup state: every decision is derived from the Agent and
// Replica rows already committed to the DB, so a restart mid-tick loses
// nothing (§5: "any mutable state is per-task, committed to the DB before
// acknowledging external calls").
type Coordinator struct {
	deps Deps
}

// New builds a Coordinator over deps.
func New(deps Deps) *Coordinator {
	return &Coordinator{deps: deps}
}

// RunLoop ticks Tick every interval until ctx is cancelled.
func (c *Coordinator) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick reconciles every online agent with auto-switch or manual-replica
// enabled, once.
func (c *Coordinator) Tick(ctx context.Context) {
	logger := logging.FromContext(ctx)

	agents, err := c.deps.Agents.OnlineWithReplicaFeatures(ctx)
	if err != nil {
		logger.Error(err, "listing replica-eligible agents")
		return
	}
	now := time.Now()
	for _, agent := range agents {
		c.reconcileAgent(ctx, agent, now)
	}
}

func (c *Coordinator) reconcileAgent(ctx context.Context, agent domain.Agent, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)

	replicas, err := c.deps.Replicas.ForAgent(ctx, agent.ID)
	if err != nil {
		logger.Error(err, "listing replicas for agent")
		return
	}

	if agent.AutoSwitchEnabled && agent.CurrentPoolID != "" {
		safe, events, err := c.deps.Risk.IsPoolSafe(ctx, agent.CurrentPoolID, now)
		if err != nil {
			logger.Error(err, "checking pool safety")
		} else if !safe {
			c.reactToRiskEvents(ctx, agent, replicas, events, now)
		}
	}

	if agent.ManualReplicaOn {
		c.maintainManualStandby(ctx, agent, replicas, now)
	}
}

// reactToRiskEvents applies §4.6's termination-over-rebalance priority: a
// termination notice always takes the faster, failover path even if a
// rebalance notice is also active for the same pool.
func (c *Coordinator) reactToRiskEvents(ctx context.Context, agent domain.Agent, replicas []domain.Replica, events []domain.RiskEvent, now time.Time) {
	var termination, rebalance bool
	for _, e := range events {
		switch e.Kind {
		case domain.RiskEventTerminationNotice:
			termination = true
		case domain.RiskEventRebalanceNotice:
			rebalance = true
		}
	}
	switch {
	case termination:
		c.handleTermination(ctx, agent, replicas, now)
	case rebalance:
		c.ensureReplica(ctx, agent, replicas, now)
	}
}

// standbys returns the replicas of an agent still in play: not yet
// terminated and not yet promoted away into a primary.
func standbys(replicas []domain.Replica) []domain.Replica {
	var out []domain.Replica
	for _, r := range replicas {
		if r.Status != domain.ReplicaTerminated && r.Status != domain.ReplicaPromoted {
			out = append(out, r)
		}
	}
	return out
}

// ensureReplica implements "auto-switch, on REBALANCE event": create a
// standby if none exists yet; if one already exists the coordinator has
// nothing further to do here (its sync status is reported elsewhere).
func (c *Coordinator) ensureReplica(ctx context.Context, agent domain.Agent, replicas []domain.Replica, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)
	if len(standbys(replicas)) > 0 {
		return
	}

	pool, price, err := c.selectReplacementPool(ctx, agent)
	if err != nil {
		logger.Error(err, "selecting replacement pool for rebalance replica")
		return
	}

	r := domain.Replica{
		ID:            uuid.NewString(),
		ParentAgentID: agent.ID,
		PoolID:        pool.ID(),
		Status:        domain.ReplicaLaunching,
		Type:          domain.ReplicaAutomaticRebalance,
		HourlyCost:    price,
		CreatedBy:     "coordinator",
		CreatedAt:     now,
	}
	if _, err := c.deps.Replicas.Create(ctx, r); err != nil {
		logger.Error(err, "creating rebalance replica")
		return
	}
	c.record("create_rebalance_replica")
	logger.Info("created rebalance replica", "replica-id", r.ID, "pool-id", r.PoolID)
}

// handleTermination implements "auto-switch, on TERMINATION event": promote
// a ready-enough standby, or attempt a best-effort emergency create-and-
// promote when none exists. Promotion is idempotent: an agent whose
// current replica is already PROMOTED within the recovery window is left
// alone.
func (c *Coordinator) handleTermination(ctx context.Context, agent domain.Agent, replicas []domain.Replica, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)

	if agent.CurrentReplicaID != nil {
		for _, r := range replicas {
			if r.ID == *agent.CurrentReplicaID && r.Status == domain.ReplicaPromoted {
				if r.PromotedAt != nil && now.Sub(*r.PromotedAt) <= recoveryWindow {
					return
				}
			}
		}
	}

	candidate := bestPromotionCandidate(standbys(replicas))
	if candidate == nil {
		c.emergencyCreateAndPromote(ctx, agent, now)
		return
	}
	c.promote(ctx, agent, *candidate, now)
	logger.Info("promoted standby replica to primary", "replica-id", candidate.ID)
}

// bestPromotionCandidate picks a READY replica over a SYNCING one, and
// among SYNCING replicas requires >50% progress, preferring the furthest
// along (§4.6: "if replica is READY (or SYNCING with >50% progress)").
func bestPromotionCandidate(candidates []domain.Replica) *domain.Replica {
	var best *domain.Replica
	for i := range candidates {
		r := &candidates[i]
		switch r.Status {
		case domain.ReplicaReady:
			return r
		case domain.ReplicaSyncing:
			if r.SyncProgress > 0.5 && (best == nil || r.SyncProgress > best.SyncProgress) {
				best = r
			}
		}
	}
	return best
}

func (c *Coordinator) promote(ctx context.Context, agent domain.Agent, r domain.Replica, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)

	r.Status = domain.ReplicaPromoted
	r.IsActive = true
	r.PromotedAt = &now
	if err := c.deps.Replicas.UpdateStatus(ctx, r); err != nil {
		logger.Error(err, "updating promoted replica status", "replica-id", r.ID)
		return
	}
	if err := c.deps.Replicas.DeactivateSiblings(ctx, agent.ID, r.ID); err != nil {
		logger.Error(err, "deactivating sibling replicas", "replica-id", r.ID)
	}

	agent.CurrentReplicaID = nil
	pool, err := domain.ParsePoolID(r.PoolID)
	if err == nil {
		agent.CurrentPoolID = pool.ID()
	}
	if _, err := c.deps.Agents.Upsert(ctx, agent); err != nil {
		logger.Error(err, "attaching promoted replica to agent")
	}
	c.record("promote")
}

// emergencyCreateAndPromote is best-effort: a freshly created replica is
// promoted immediately, skipping LAUNCHING/SYNCING, since no standby was
// ready in time. Callers treat a failure here as a FAILED failover, not a
// fatal loop error.
func (c *Coordinator) emergencyCreateAndPromote(ctx context.Context, agent domain.Agent, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)

	pool, price, err := c.selectReplacementPool(ctx, agent)
	if err != nil {
		logger.Error(err, "selecting emergency replacement pool")
		return
	}

	r := domain.Replica{
		ID:            uuid.NewString(),
		ParentAgentID: agent.ID,
		PoolID:        pool.ID(),
		Status:        domain.ReplicaPromoted,
		Type:          domain.ReplicaAutomaticRebalance,
		SyncProgress:  1,
		HourlyCost:    price,
		CreatedBy:     "coordinator",
		IsActive:      true,
		PromotedAt:    &now,
		CreatedAt:     now,
	}
	if _, err := c.deps.Replicas.Create(ctx, r); err != nil {
		logger.Error(err, "creating emergency replica")
		return
	}

	agent.CurrentReplicaID = nil
	agent.CurrentPoolID = pool.ID()
	if _, err := c.deps.Agents.Upsert(ctx, agent); err != nil {
		logger.Error(err, "attaching emergency replica to agent")
	}
	c.record("emergency_create_and_promote")
	logger.Info("emergency-created and promoted replica", "replica-id", r.ID, "pool-id", r.PoolID)
}

// maintainManualStandby implements "manual mode: maintain exactly one
// active replica" (§4.6), independent of any risk event.
func (c *Coordinator) maintainManualStandby(ctx context.Context, agent domain.Agent, replicas []domain.Replica, now time.Time) {
	logger := logging.FromContext(ctx).WithValues("agent-id", agent.ID)

	var manual []domain.Replica
	for _, r := range replicas {
		if r.Type == domain.ReplicaManual && r.Status != domain.ReplicaTerminated && r.Status != domain.ReplicaPromoted {
			manual = append(manual, r)
		}
	}

	switch {
	case len(manual) == 0:
		pool, price, err := c.selectReplacementPool(ctx, agent)
		if err != nil {
			logger.Error(err, "selecting manual standby pool")
			return
		}
		r := domain.Replica{
			ID:            uuid.NewString(),
			ParentAgentID: agent.ID,
			PoolID:        pool.ID(),
			Status:        domain.ReplicaLaunching,
			Type:          domain.ReplicaManual,
			HourlyCost:    price,
			CreatedBy:     "coordinator",
			CreatedAt:     now,
		}
		if _, err := c.deps.Replicas.Create(ctx, r); err != nil {
			logger.Error(err, "creating manual standby")
			return
		}
		c.record("create_manual_standby")
		logger.Info("created manual standby replica", "replica-id", r.ID)

	case len(manual) > 1:
		newest := manual[0]
		for _, r := range manual[1:] {
			if r.CreatedAt.After(newest.CreatedAt) {
				newest = r
			}
		}
		for _, r := range manual {
			if r.ID == newest.ID {
				continue
			}
			r.Status = domain.ReplicaTerminated
			r.IsActive = false
			if err := c.deps.Replicas.UpdateStatus(ctx, r); err != nil {
				logger.Error(err, "terminating surplus manual standby", "replica-id", r.ID)
				continue
			}
			c.record("terminate_surplus_manual_standby")
		}
	}
}

// selectReplacementPool implements "query prices for (instance type,
// region), exclude current pool and !isPoolSafe pools, pick lowest spot
// price" among pools that "pass hardware match" (§4.6): same architecture,
// at least as much CPU and memory as the agent's current type. The region
// is recovered from CurrentPoolID since no richer per-agent instance
// record is tracked by this module.
func (c *Coordinator) selectReplacementPool(ctx context.Context, agent domain.Agent) (domain.Pool, float64, error) {
	current, err := domain.ParsePoolID(agent.CurrentPoolID)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	region := current.Region()

	currentMeta, err := c.deps.Metadata.Metadata(ctx, current.Type)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	metaByType, err := c.deps.Metadata.BulkMetadata(ctx, region)
	if err != nil {
		return domain.Pool{}, 0, err
	}
	prices, err := c.deps.Prices.BulkSpot(ctx, region)
	if err != nil {
		return domain.Pool{}, 0, err
	}

	var best domain.Pool
	bestPrice := -1.0
	for pool, price := range prices {
		if pool.ID() == current.ID() {
			continue
		}
		meta, ok := metaByType[pool.Type]
		if !ok || !hardwareMatches(currentMeta, meta) {
			continue
		}
		safe, _, err := c.deps.Risk.IsPoolSafe(ctx, pool.ID(), time.Now())
		if err != nil || !safe {
			continue
		}
		if bestPrice < 0 || price < bestPrice {
			best, bestPrice = pool, price
		}
	}
	if bestPrice < 0 {
		return domain.Pool{}, 0, errorkind.New(errorkind.DataGap,
			"no safe hardware-matched pool found for type %s in region %s", current.Type, region)
	}
	return best, bestPrice, nil
}

// hardwareMatches reports whether candidate is at least as capable as
// current and shares its architecture, the "hardware match" test of §4.6.
func hardwareMatches(current, candidate providers.InstanceMetadata) bool {
	return candidate.Architecture == current.Architecture &&
		candidate.VCPU >= current.VCPU &&
		candidate.MemoryGB >= current.MemoryGB
}
