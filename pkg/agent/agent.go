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

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/herdguard/herdguard/pkg/config"
	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/pipeline"
	"github.com/herdguard/herdguard/pkg/protocol"
	"github.com/herdguard/herdguard/pkg/providers"
)

// Identity is the static self-description an Agent reports at registration
// and carries into every command it later dispatches (§4.5, §6.1).
type Identity struct {
	Hostname        string
	CloudInstanceID string
	Type            string
	Region          string
	AZ              string
	Version         string
}

// Agent is the per-instance process of §4.5: it registers once, then runs
// independent heartbeat, pricing-report, signal-poll, and command-poll loops
// against the Server for the lifetime of ctx.
type Agent struct {
	cfg      *config.Agent
	identity Identity
	client   *Client

	prices   providers.PriceProvider
	metadata providers.InstanceMetadataProvider
	advisor  providers.SpotAdvisor
	signals  providers.SignalProvider
	risk     providers.RiskModel
	switcher pipeline.Switcher

	mu            sync.Mutex
	agentID       string
	currentPoolID string
}

// Deps bundles the local collaborators an Agent needs for mode=test, where
// the decision pipeline runs inside the Agent process itself rather than on
// the Server (§4.3.1, §4.5: K8s-mode agents instead execute commands pushed
// by the Server's own pipeline run, see pkg/server).
type Deps struct {
	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
	Advisor  providers.SpotAdvisor
	Signals  providers.SignalProvider
	Risk     providers.RiskModel
	Switcher pipeline.Switcher
}

// New builds an Agent that will register and run against cfg.ServerURL.
func New(cfg *config.Agent, identity Identity, client *Client, deps Deps) *Agent {
	return &Agent{
		cfg:      cfg,
		identity: identity,
		client:   client,
		prices:   deps.Prices,
		metadata: deps.Metadata,
		advisor:  deps.Advisor,
		signals:  deps.Signals,
		risk:     deps.Risk,
		switcher: deps.Switcher,
	}
}

// Run registers with the Server and blocks running every loop until ctx is
// cancelled, then sends a final OFFLINE heartbeat before returning (§5:
// "on shutdown an agent reports itself offline before exiting").
func (a *Agent) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	resp, err := a.client.Register(ctx, protocol.RegisterRequest{
		Hostname:        a.identity.Hostname,
		CloudInstanceID: a.identity.CloudInstanceID,
		Type:            a.identity.Type,
		Region:          a.identity.Region,
		AZ:              a.identity.AZ,
		CurrentMode:     a.cfg.InputMode,
		Version:         a.identity.Version,
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.agentID = resp.AgentID
	a.currentPoolID = a.poolID(a.identity.AZ, a.identity.Type)
	a.mu.Unlock()
	logger.Info("agent registered", "agent-id", resp.AgentID)

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"heartbeat", a.cfg.HeartbeatInterval, a.heartbeatOnce},
		{"pricing-report", a.cfg.PricingReportInterval, a.pricingReportOnce},
		{"signal-poll", a.cfg.SignalPollInterval, a.signalPollOnce},
		{"command-poll", a.cfg.CommandPollInterval, a.commandPollOnce},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context)) {
			defer wg.Done()
			a.tick(ctx, name, interval, run)
		}(l.name, l.interval, l.run)
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.DrainTimeout)
	defer cancel()
	a.sendHeartbeat(shutdownCtx, domain.AgentStatusOffline)
	return nil
}

// tick runs `run` immediately and then every interval until ctx is
// cancelled, logging but never propagating a single iteration's error — each
// loop keeps retrying on its own cadence (§7: transient upstream failures
// are retried, never fatal to the process).
func (a *Agent) tick(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	logger := logging.FromContext(ctx).WithValues("loop", name)
	run(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopping")
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (a *Agent) heartbeatOnce(ctx context.Context) {
	a.sendHeartbeat(ctx, domain.AgentStatusOnline)
}

func (a *Agent) sendHeartbeat(ctx context.Context, status domain.AgentStatus) {
	logger := logging.FromContext(ctx)
	a.mu.Lock()
	agentID, poolID := a.agentID, a.currentPoolID
	a.mu.Unlock()
	if agentID == "" {
		return
	}
	err := a.client.Heartbeat(ctx, agentID, protocol.HeartbeatRequest{
		Status:          string(status),
		CloudInstanceID: a.identity.CloudInstanceID,
		CurrentMode:     a.cfg.InputMode,
		CurrentPoolID:   poolID,
	})
	if err != nil {
		logger.Error(err, "sending heartbeat")
	}
}

func (a *Agent) pricingReportOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	a.mu.Lock()
	agentID := a.agentID
	a.mu.Unlock()
	if agentID == "" {
		return
	}

	spot, err := a.prices.Spot(ctx, a.identity.Type, a.identity.AZ)
	if err != nil {
		logger.Error(err, "fetching spot price")
		return
	}
	onDemand, err := a.prices.OnDemand(ctx, a.identity.Type)
	if err != nil {
		logger.Error(err, "fetching on-demand price")
		return
	}

	err = a.client.PricingReport(ctx, agentID, protocol.PricingReportRequest{
		Instance: a.identity.CloudInstanceID,
		Pricing:  onDemand,
		SpotPools: []protocol.SpotPoolObservation{
			{Type: a.identity.Type, AZ: a.identity.AZ, SpotPrice: spot},
		},
		CollectedAt: time.Now(),
	})
	if err != nil {
		logger.Error(err, "sending pricing report")
	}
}

// signalPollOnce runs the decision pipeline locally for mode=test and acts on
// whatever verdict it renders, using the Agent's own Switcher (§4.3.1,
// §4.3.11). In mode=k8s it instead polls the local AWS signal and reports a
// REBALANCE or TERMINATION notice to the Server, which registers it on the
// Global Risk Tracker and drives the Agent via commands instead (see
// commandPollOnce).
func (a *Agent) signalPollOnce(ctx context.Context) {
	if a.cfg.InputMode != "test" {
		a.reportSignalOnce(ctx)
		return
	}
	logger := logging.FromContext(ctx)

	orch := pipeline.BuildOrchestrator(domain.InputModeTest, pipeline.Deps{
		Prices:   a.prices,
		Metadata: a.metadata,
		Advisor:  a.advisor,
		Signals:  a.signals,
		Risk:     a.risk,
		Tracker:  noopRiskTracker{},
		Actuator: &pipeline.SingleInstanceActuator{Switcher: a.switcher},
	})
	pc := &pipeline.Context{
		Input: pipeline.Input{
			Mode:        domain.InputModeTest,
			CurrentType: a.identity.Type,
			CurrentAZ:   a.identity.AZ,
		},
		Thresholds: pipeline.DefaultThresholds(),
	}
	result := orch.Execute(ctx, pc)
	if result.Verdict != domain.VerdictStay && result.Selected != nil {
		logger.Info("pipeline verdict applied", "verdict", result.Verdict,
			"instance-type", result.Selected.InstanceType, "az", result.Selected.AZ)
		a.mu.Lock()
		a.identity.Type = result.Selected.InstanceType
		a.identity.AZ = result.Selected.AZ
		a.currentPoolID = a.poolID(a.identity.AZ, a.identity.Type)
		a.mu.Unlock()
	}
}

// reportSignalOnce polls the local instance-metadata signal and, if it
// names an interruption, reports it to the Server once. a.signals already
// debounces transient metadata-service errors down to domain.SignalNone
// (see pkg/providers/signal), so a report here is never sent on a whim.
func (a *Agent) reportSignalOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	a.mu.Lock()
	agentID, poolID := a.agentID, a.currentPoolID
	a.mu.Unlock()
	if agentID == "" {
		return
	}

	switch a.signals.Poll(ctx) {
	case domain.SignalRebalance:
		if err := a.client.Rebalance(ctx, agentID, protocol.RebalanceRequest{
			CloudInstanceID: a.identity.CloudInstanceID,
			PoolID:          poolID,
			Urgency:         "rebalance-recommendation",
		}); err != nil {
			logger.Error(err, "reporting rebalance signal")
		}
	case domain.SignalTermination:
		if err := a.client.Termination(ctx, agentID, protocol.TerminationRequest{
			CloudInstanceID: a.identity.CloudInstanceID,
			TerminationTime: time.Now(),
		}); err != nil {
			logger.Error(err, "reporting termination signal")
		}
	}
}

// poolID builds the pool identifier for (az, instanceType), logging and
// falling back to the empty string on an invalid pair rather than panicking
// mid-loop.
func (a *Agent) poolID(az, instanceType string) string {
	pool, err := domain.NewPool(az, instanceType)
	if err != nil {
		return ""
	}
	return pool.ID()
}

func (a *Agent) commandPollOnce(ctx context.Context) {
	logger := logging.FromContext(ctx)
	a.mu.Lock()
	agentID := a.agentID
	a.mu.Unlock()
	if agentID == "" {
		return
	}

	cmds, err := a.client.ListCommands(ctx, agentID)
	if err != nil {
		logger.Error(err, "listing commands")
		return
	}
	for _, cmd := range cmds {
		ok, execErr := a.execute(ctx, cmd)
		msg := ""
		if execErr != nil {
			msg = execErr.Error()
			logger.Error(execErr, "executing command", "command-id", cmd.ID, "kind", cmd.Kind)
		}
		if err := a.client.Executed(ctx, agentID, cmd.ID, protocol.ExecutedRequest{Success: ok, Message: msg}); err != nil {
			logger.Error(err, "reporting command result", "command-id", cmd.ID)
		}
	}
}

// execute dispatches a command by kind (§6.4). shutdown is handled by the
// caller's process supervisor, not here: this Agent only reports it.
func (a *Agent) execute(ctx context.Context, cmd protocol.CommandView) (bool, error) {
	switch domain.CommandKind(cmd.Kind) {
	case domain.CommandSwitch:
		targetType, _ := cmd.Payload["target-type"].(string)
		targetAZ, _ := cmd.Payload["target-az"].(string)
		selected := &domain.Candidate{InstanceType: targetType, AZ: targetAZ}
		if err := a.switcher.Switch(ctx, domain.VerdictSwitch, selected); err != nil {
			return false, err
		}
		a.mu.Lock()
		a.identity.Type, a.identity.AZ = targetType, targetAZ
		a.currentPoolID = a.poolID(targetAZ, targetType)
		a.mu.Unlock()
		return true, nil
	case domain.CommandApplyConfig, domain.CommandPromoteReplica, domain.CommandCreateReplica, domain.CommandShutdown:
		// Acknowledged; applied by the process supervisor or the Replica
		// Coordinator, which this Agent does not itself run.
		return true, nil
	default:
		return false, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

// noopRiskTracker treats every pool as safe. An Agent running in mode=test
// has no access to the Server's Global Risk Tracker, so local signal-poll
// pipeline runs skip that stage's effect rather than calling out over HTTP
// for it (no such endpoint exists in this protocol surface).
type noopRiskTracker struct{}

func (noopRiskTracker) IsPoolSafe(ctx context.Context, poolID string, now time.Time) (bool, []domain.RiskEvent, error) {
	return true, nil, nil
}
