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

// Package domain holds the wire- and storage-independent types shared by the
// pipeline, the agent/server protocol, and the store: tenants/accounts/
// instances, pools and pricing, candidates, risk events, commands, and the
// lifecycle state machines that drive them.
package domain

import "time"

// Lifecycle is the billing/ownership mode of an Instance.
type Lifecycle string

const (
	LifecycleSpot     Lifecycle = "spot"
	LifecycleOnDemand Lifecycle = "on-demand"
)

// PipelineMode selects which Input Adapter and Actuator the orchestrator
// uses for an Instance (§4.3.1, §4.3.11).
type PipelineMode string

const (
	PipelineLinear     PipelineMode = "LINEAR"
	PipelineCluster    PipelineMode = "CLUSTER"
	PipelineKubernetes PipelineMode = "KUBERNETES"
)

// Environment distinguishes tenants whose interruptions poison pools
// (PROD) from those whose interruptions are dropped (LAB), per §4.4.
type Environment string

const (
	EnvironmentProd Environment = "prod"
	EnvironmentLab  Environment = "lab"
)

// Tenant is an external customer; it owns Accounts.
type Tenant struct {
	ID          string
	Name        string
	Environment Environment
	CreatedAt   time.Time
}

// Account is a cloud-account handle owned by a Tenant.
type Account struct {
	ID           string
	TenantID     string
	CloudAccount string // e.g. the AWS account id
	AssumeRole   string
	ExternalID   string
	CreatedAt    time.Time
}

// ClusterMembership identifies the K8s cluster/node-group an Instance
// belongs to when its PipelineMode is PipelineKubernetes.
type ClusterMembership struct {
	Cluster   string
	NodeGroup string
}

// Instance is a managed compute unit.
type Instance struct {
	ID               string
	AccountID        string
	CloudInstanceID  string
	Type             string
	AvailabilityZone string
	Region           string
	Lifecycle        Lifecycle
	CurrentPoolID    string
	PipelineMode     PipelineMode
	Cluster          *ClusterMembership
	RiskModelID      string
	ShadowMode       bool
	CreatedAt        time.Time
}

// AgentStatus is the lifecycle state of an Agent (§3.5).
type AgentStatus string

const (
	AgentStatusOnline    AgentStatus = "online"
	AgentStatusOffline   AgentStatus = "offline"
	AgentStatusSwitching AgentStatus = "switching"
	AgentStatusFailover  AgentStatus = "failover"
)

// Agent is a process identity bound to an Instance.
type Agent struct {
	ID                 string
	InstanceID         string
	ClientToken        string
	LastHeartbeat       time.Time
	Status             AgentStatus
	CurrentMode        InputMode
	CurrentPoolID      string
	CurrentReplicaID   *string
	AutoSwitchEnabled  bool
	ManualReplicaOn    bool
	SwitchingThreshold float64
}

// ReplicaStatus is the lifecycle state of a Replica (§3.5).
type ReplicaStatus string

const (
	ReplicaLaunching ReplicaStatus = "launching"
	ReplicaSyncing   ReplicaStatus = "syncing"
	ReplicaReady     ReplicaStatus = "ready"
	ReplicaPromoted  ReplicaStatus = "promoted"
	ReplicaTerminated ReplicaStatus = "terminated"
	ReplicaFailed    ReplicaStatus = "failed"
)

// ReplicaType distinguishes a user-maintained standby from one the
// coordinator created reactively in response to an interruption signal.
type ReplicaType string

const (
	ReplicaManual             ReplicaType = "manual"
	ReplicaAutomaticRebalance ReplicaType = "automatic-rebalance"
)

// Replica is a standby instance tracked by the Replica Coordinator (§4.6).
type Replica struct {
	ID           string
	ParentAgentID string
	PoolID       string
	Status       ReplicaStatus
	Type         ReplicaType
	SyncProgress float64 // 0..1
	HourlyCost   float64
	CreatedBy    string
	IsActive     bool
	PromotedAt   *time.Time
	CreatedAt    time.Time
}
