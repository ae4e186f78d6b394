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

package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/pipeline"
)

// CommandCreator persists a queued Command; satisfied by *store.CommandStore.
type CommandCreator interface {
	Create(ctx context.Context, cmd domain.Command) (domain.Command, error)
}

// CommandSwitchActuator is the k8s-mode Actuator (§4.3.11): rather than
// calling a Switcher directly, it queues a SWITCH Command for the Agent's
// own commandPollOnce loop to pick up and execute with its own k8sswitch
// Switcher. One is built per agent per reconcile pass, scoped to that
// agent's id.
type CommandSwitchActuator struct {
	Commands CommandCreator
	AgentID  string
	Expiry   time.Duration
}

// Act implements pipeline.Actuator. A STAY verdict queues nothing.
func (a *CommandSwitchActuator) Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error) {
	if verdict == domain.VerdictStay {
		return true, nil
	}
	payload := map[string]any{"verdict": string(verdict)}
	if selected != nil {
		payload["target-type"] = selected.InstanceType
		payload["target-az"] = selected.AZ
	}
	now := time.Now()
	cmd := domain.Command{
		ID:        uuid.NewString(),
		AgentID:   a.AgentID,
		Kind:      domain.CommandSwitch,
		Payload:   payload,
		Status:    domain.CommandPending,
		CreatedAt: now,
		ExpiresAt: now.Add(a.Expiry),
	}
	if _, err := a.Commands.Create(ctx, cmd); err != nil {
		return false, err
	}
	return true, nil
}

// RunK8sPipelineSweep runs the decision pipeline once for every online
// k8s-mode agent and queues a SWITCH command for any non-STAY verdict
// (§4.3, §4.11). Unlike mode=test, where each Agent runs its own pipeline
// locally against its own Switcher, k8s-mode agents report their shape and
// let the Server decide and push commands, since cluster-aware moves need
// the Server's cross-agent view of Global Risk Tracker state.
func (s *Server) RunK8sPipelineSweep(ctx context.Context) {
	logger := logging.FromContext(ctx)

	agents, err := s.deps.Agents.OnlineByMode(ctx, domain.InputModeK8s)
	if err != nil {
		logger.Error(err, "listing online k8s-mode agents")
		return
	}

	for _, agent := range agents {
		if agent.CurrentPoolID == "" {
			continue
		}
		pool, err := domain.ParsePoolID(agent.CurrentPoolID)
		if err != nil {
			logger.Error(err, "parsing agent pool id", "agent-id", agent.ID, "pool-id", agent.CurrentPoolID)
			continue
		}
		meta, err := s.deps.Metadata.Metadata(ctx, pool.Type)
		if err != nil {
			logger.Error(err, "resolving agent hardware shape", "agent-id", agent.ID, "instance-type", pool.Type)
			continue
		}

		pc := &pipeline.Context{
			Input: pipeline.Input{
				Mode:         domain.InputModeK8s,
				Region:       pool.Region(),
				VCPU:         meta.VCPU,
				MemoryGB:     meta.MemoryGB,
				Architecture: meta.Architecture,
			},
			Thresholds: pipeline.Thresholds{
				MaxCrashProbability:      s.cfg.MaxCrashProbability,
				MaxHistoricInterruptRate: s.cfg.MaxHistoricInterruptRate,
				RightsizeMultiplier:      s.cfg.RightsizeMultiplier,
			},
		}

		orch := pipeline.BuildOrchestrator(domain.InputModeK8s, pipeline.Deps{
			Prices:   s.deps.Prices,
			Metadata: s.deps.Metadata,
			Advisor:  s.deps.Advisor,
			Signals:  s.deps.Signals,
			Risk:     s.deps.Risk,
			Tracker:  s.deps.RiskTracker,
			Actuator: &CommandSwitchActuator{Commands: s.deps.Commands, AgentID: agent.ID, Expiry: s.cfg.CommandExpiry},
		})

		pc = orch.Execute(ctx, pc)
		if pc.Verdict != domain.VerdictStay {
			logger.Info("k8s pipeline queued command", "agent-id", agent.ID, "verdict", pc.Verdict, "reason", pc.Reason)
		}
	}
}

// RunK8sPipelineLoop ticks RunK8sPipelineSweep every interval until ctx is
// cancelled.
func (s *Server) RunK8sPipelineLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunK8sPipelineSweep(ctx)
		}
	}
}
