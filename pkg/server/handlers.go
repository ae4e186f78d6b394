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
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/protocol"
)

type agentContextKey struct{}

// requireAgentOwnership resolves the {agentID} path param and checks that
// the bearer token owns it (§4.5: "All endpoints validate token ownership
// of the agent-id"), stashing the loaded agent in the request context.
func (s *Server) requireAgentOwnership(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentID")
		agent, err := s.deps.Agents.Get(r.Context(), agentID)
		if err != nil {
			if err == pgx.ErrNoRows {
				RespondError(w, r, errorkind.New(errorkind.NotFound, "unknown agent %q", agentID))
				return
			}
			RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
			return
		}
		if agent.ClientToken != bearerFromContext(r.Context()) {
			RespondError(w, r, errorkind.New(errorkind.Auth, "token does not own agent %q", agentID))
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey{}, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func agentFromContext(ctx context.Context) domain.Agent {
	a, _ := ctx.Value(agentContextKey{}).(domain.Agent)
	return a
}

// handleRegister implements POST /agents/register. Idempotent on
// (client-token, cloud-instance-id): a retry with the same pair returns the
// agent created by the first call instead of creating a duplicate.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	token := bearerFromContext(r.Context())
	if token == "" {
		RespondError(w, r, errorkind.New(errorkind.Auth, "missing bearer client-token"))
		return
	}

	existing, err := s.deps.Agents.GetByTokenAndInstance(r.Context(), token, req.CloudInstanceID)
	if err == nil {
		Respond(w, http.StatusOK, protocol.RegisterResponse{AgentID: existing.ID})
		return
	}
	if err != pgx.ErrNoRows {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}

	agent := domain.Agent{
		ID:                uuid.NewString(),
		InstanceID:        req.CloudInstanceID,
		ClientToken:       token,
		LastHeartbeat:     time.Now(),
		Status:            domain.AgentStatusOnline,
		CurrentMode:       domain.InputMode(req.CurrentMode),
		AutoSwitchEnabled: true,
	}
	created, err := s.deps.Agents.Upsert(r.Context(), agent)
	if err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	Respond(w, http.StatusCreated, protocol.RegisterResponse{AgentID: created.ID})
}

// handleHeartbeat implements POST /agents/{id}/heartbeat. Last-writer-wins:
// a stale, reordered retry simply overwrites last_heartbeat with an earlier
// timestamp, acceptable per §4.5's idempotency contract for this endpoint.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req protocol.HeartbeatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	agent := agentFromContext(r.Context())
	status := domain.AgentStatus(req.Status)
	mode := domain.InputMode(req.CurrentMode)
	if err := s.deps.Agents.Heartbeat(r.Context(), agent.ID, status, mode, req.CurrentPoolID, time.Now()); err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	Respond(w, http.StatusOK, nil)
}

// handlePricingReport implements POST /agents/{id}/pricing-report. Reports
// are keyed by (pool, time-bucket); the store's confidence-wins upsert
// absorbs duplicate/out-of-order retries (§4.5, §4.8). Observations are
// written to the cleaned pricing store and the price cache only; they do not
// go through pricing.Ingester and are not written to the raw store.
func (s *Server) handlePricingReport(w http.ResponseWriter, r *http.Request) {
	var req protocol.PricingReportRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	bucket := domain.TimeBucket(req.CollectedAt)
	for _, obs := range req.SpotPools {
		pool, err := domain.NewPool(obs.AZ, obs.Type)
		if err != nil {
			continue
		}
		snap := domain.PricingSnapshot{
			PoolID:     pool.ID(),
			Bucket:     bucket,
			SpotPrice:  obs.SpotPrice,
			OnDemand:   req.Pricing,
			Confidence: 1.0,
			Source:     domain.PriceSourceAgent,
		}
		if err := s.deps.Pricing.Upsert(r.Context(), snap); err != nil {
			RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
			return
		}
		if err := s.deps.PriceCache.Set(r.Context(), pool.ID(), obs.SpotPrice, req.Pricing); err != nil {
			logging.FromContext(r.Context()).Error(err, "updating price cache", "pool-id", pool.ID())
		}
	}
	Respond(w, http.StatusOK, nil)
}

// handleListCommands implements GET /agents/{id}/commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())
	cmds, err := s.deps.Commands.PendingForAgent(r.Context(), agent.ID)
	if err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	now := time.Now()
	views := make([]protocol.CommandView, 0, len(cmds))
	for _, c := range cmds {
		if c.Expired(now) {
			continue
		}
		views = append(views, protocol.CommandView{
			ID: c.ID, Kind: string(c.Kind), Payload: c.Payload, ExpiresAt: c.ExpiresAt,
		})
	}
	Respond(w, http.StatusOK, views)
}

// handleCommandExecuted implements POST /agents/{id}/commands/{cmd}/executed.
// Command completion is a monotonic transition: repeated calls after
// COMPLETED/FAILED are a no-op per the Command state machine's
// CanTransition self-loop (§8 round-trip property).
func (s *Server) handleCommandExecuted(w http.ResponseWriter, r *http.Request) {
	var req protocol.ExecutedRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	cmdID := chi.URLParam(r, "cmd")
	cmd, err := s.deps.Commands.Get(r.Context(), cmdID)
	if err != nil {
		if err == pgx.ErrNoRows {
			RespondError(w, r, errorkind.New(errorkind.NotFound, "unknown command %q", cmdID))
			return
		}
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}

	next := domain.CommandCompleted
	if !req.Success {
		next = domain.CommandFailed
	}
	if err := cmd.Transition(next); err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.Conflict, err))
		return
	}
	now := time.Now()
	cmd.CompletedAt = &now
	cmd.Result = req.Message
	if !req.Success {
		cmd.Error = req.Message
	}
	if err := s.deps.Commands.UpdateStatus(r.Context(), cmd); err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	Respond(w, http.StatusOK, nil)
}

// handleReadReplicas implements GET /replicas/{agentID}, an operator-facing
// read of every replica ever created for an agent (supplemented from the
// original source's replica routes; additive to the agent protocol, not
// part of it).
func (s *Server) handleReadReplicas(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())
	replicas, err := s.deps.Replicas.ForAgent(r.Context(), agent.ID)
	if err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	views := make([]protocol.ReplicaView, 0, len(replicas))
	for _, rep := range replicas {
		views = append(views, protocol.ReplicaView{
			ID: rep.ID, PoolID: rep.PoolID, Status: string(rep.Status), Type: string(rep.Type),
			SyncProgress: rep.SyncProgress, HourlyCost: rep.HourlyCost, IsActive: rep.IsActive,
			PromotedAt: rep.PromotedAt, CreatedAt: rep.CreatedAt,
		})
	}
	Respond(w, http.StatusOK, views)
}

// handleReadCommands implements GET /commands/{agentID}, an operator-facing
// read of every command ever queued for an agent regardless of status
// (supplemented from the original source's client routes; distinct from
// GET /agents/{id}/commands, which only returns the agent's own pending
// commands).
func (s *Server) handleReadCommands(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())
	cmds, err := s.deps.Commands.ForAgent(r.Context(), agent.ID)
	if err != nil {
		RespondError(w, r, errorkind.Wrap(errorkind.TransientUpstream, err))
		return
	}
	views := make([]protocol.CommandStatusView, 0, len(cmds))
	for _, c := range cmds {
		views = append(views, protocol.CommandStatusView{
			ID: c.ID, Kind: string(c.Kind), Payload: c.Payload, Status: string(c.Status),
			CreatedAt: c.CreatedAt, ExpiresAt: c.ExpiresAt, CompletedAt: c.CompletedAt,
			Result: c.Result, Error: c.Error,
		})
	}
	Respond(w, http.StatusOK, views)
}

// handleRebalance implements POST /agents/{id}/rebalance. Registers a
// REBALANCE risk event against the reported pool and leaves replica
// creation to the Replica Coordinator's next tick (§4.6).
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req protocol.RebalanceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	s.deps.RiskTracker.RegisterEventAsync(r.Context(), req.PoolID, domain.RiskEventRebalanceNotice,
		domain.EnvironmentProd, agentFromContext(r.Context()).ID, map[string]string{"urgency": req.Urgency})
	Respond(w, http.StatusOK, nil)
}

// handleTermination implements POST /agents/{id}/termination. Registers a
// TERMINATION risk event; failover itself is the Replica Coordinator's
// responsibility on its next tick (§4.6).
func (s *Server) handleTermination(w http.ResponseWriter, r *http.Request) {
	var req protocol.TerminationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	agent := agentFromContext(r.Context())
	s.deps.RiskTracker.RegisterEventAsync(r.Context(), agent.CurrentPoolID, domain.RiskEventTerminationNotice,
		domain.EnvironmentProd, agent.ID, map[string]string{"termination-time": req.TerminationTime.Format(time.RFC3339)})
	Respond(w, http.StatusOK, nil)
}
