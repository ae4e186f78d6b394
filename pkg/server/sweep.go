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

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
)

// missedIntervalsOffline is the number of missed heartbeat intervals after
// which an agent is flipped to OFFLINE (§4.5).
const missedIntervalsOffline = 3

// RunExpirySweep expires overdue commands and flips agents that have missed
// missedIntervalsOffline heartbeats to OFFLINE. It runs once per call; the
// caller ticks it on its own cadence and stops on ctx cancellation.
func (s *Server) RunExpirySweep(ctx context.Context, heartbeatInterval time.Duration) {
	logger := logging.FromContext(ctx)

	if n, err := s.deps.Commands.ExpirePending(ctx); err != nil {
		logger.Error(err, "expiring pending commands")
	} else if n > 0 {
		logger.Info("expired pending commands", "count", n)
	}

	cutoff := time.Now().Add(-missedIntervalsOffline * heartbeatInterval)
	stale, err := s.deps.Agents.StaleSince(ctx, cutoff)
	if err != nil {
		logger.Error(err, "listing stale agents")
		return
	}
	for _, agent := range stale {
		if err := s.deps.Agents.Heartbeat(ctx, agent.ID, domain.AgentStatusOffline, agent.CurrentMode, agent.CurrentPoolID, agent.LastHeartbeat); err != nil {
			logger.Error(err, "marking agent offline", "agent-id", agent.ID)
		}
	}
}

// RunLoop ticks RunExpirySweep every interval until ctx is cancelled.
func (s *Server) RunLoop(ctx context.Context, interval, heartbeatInterval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunExpirySweep(ctx, heartbeatInterval)
		}
	}
}
