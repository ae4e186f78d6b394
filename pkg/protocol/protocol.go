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

// Package protocol holds the wire shapes of the Agent <-> Server RPC
// surface (§4.5, §6.1, §6.4): JSON request/response bodies and the typed
// command payloads an Agent decodes after polling /agents/{id}/commands.
package protocol

import "time"

// RegisterRequest is the body of POST /agents/register.
type RegisterRequest struct {
	Hostname        string `json:"hostname" validate:"required"`
	CloudInstanceID string `json:"cloud-instance-id" validate:"required"`
	Type            string `json:"type" validate:"required"`
	Region          string `json:"region" validate:"required"`
	AZ              string `json:"az" validate:"required"`
	CurrentMode     string `json:"current-mode" validate:"required,oneof=test k8s"`
	Version         string `json:"version" validate:"required"`
}

// RegisterResponse is the body returned by a successful registration.
type RegisterResponse struct {
	AgentID string `json:"agent-id"`
}

// HeartbeatRequest is the body of POST /agents/{id}/heartbeat.
type HeartbeatRequest struct {
	Status          string `json:"status" validate:"required,oneof=online offline switching failover"`
	CloudInstanceID string `json:"cloud-instance-id" validate:"required"`
	CurrentMode     string `json:"current-mode" validate:"required"`
	CurrentPoolID   string `json:"current-pool-id" validate:"required"`
}

// SpotPoolObservation is one (type, az) price point inside a pricing report.
type SpotPoolObservation struct {
	Type      string  `json:"type" validate:"required"`
	AZ        string  `json:"az" validate:"required"`
	SpotPrice float64 `json:"spot-price" validate:"gte=0"`
}

// PricingReportRequest is the body of POST /agents/{id}/pricing-report.
type PricingReportRequest struct {
	Instance    string                `json:"instance" validate:"required"`
	Pricing     float64               `json:"pricing" validate:"gte=0"`
	SpotPools   []SpotPoolObservation `json:"spot-pools"`
	CollectedAt time.Time             `json:"collected-at" validate:"required"`
}

// CommandView is the JSON shape of a command returned by
// GET /agents/{id}/commands.
type CommandView struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	ExpiresAt time.Time      `json:"expires-at"`
}

// CommandStatusView is the JSON shape of a command returned by the
// operator-facing GET /commands/{agentID}, a superset of CommandView that
// also reports the command's current status and lifecycle timestamps.
type CommandStatusView struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created-at"`
	ExpiresAt   time.Time      `json:"expires-at"`
	CompletedAt *time.Time     `json:"completed-at,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ReplicaView is the JSON shape of a replica returned by the
// operator-facing GET /replicas/{agentID}.
type ReplicaView struct {
	ID           string     `json:"id"`
	PoolID       string     `json:"pool-id"`
	Status       string     `json:"status"`
	Type         string     `json:"type"`
	SyncProgress float64    `json:"sync-progress"`
	HourlyCost   float64    `json:"hourly-cost"`
	IsActive     bool       `json:"is-active"`
	PromotedAt   *time.Time `json:"promoted-at,omitempty"`
	CreatedAt    time.Time  `json:"created-at"`
}

// ExecutedRequest is the body of POST /agents/{id}/commands/{cmd}/executed.
type ExecutedRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RebalanceRequest is the body of POST /agents/{id}/rebalance.
type RebalanceRequest struct {
	CloudInstanceID string `json:"cloud-instance-id" validate:"required"`
	PoolID          string `json:"pool-id" validate:"required"`
	Urgency         string `json:"urgency" validate:"required"`
}

// TerminationRequest is the body of POST /agents/{id}/termination.
type TerminationRequest struct {
	CloudInstanceID string    `json:"cloud-instance-id" validate:"required"`
	TerminationTime time.Time `json:"termination-time" validate:"required"`
}

// SwitchPayload is the typed payload of a "switch" command (§6.4).
type SwitchPayload struct {
	TargetType   string `json:"target-type"`
	TargetAZ     string `json:"target-az"`
	TargetPoolID string `json:"target-pool-id"`
}

// PromoteReplicaPayload is the typed payload of a "promote-replica" command.
type PromoteReplicaPayload struct {
	ReplicaID string `json:"replica-id"`
}

// ApplyConfigPayload is the typed payload of an "apply-config" command: an
// overlay on the agent's own config. Unknown keys are ignored by the Agent.
type ApplyConfigPayload map[string]any
