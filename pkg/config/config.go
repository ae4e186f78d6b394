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

// Package config loads process configuration from the environment for both
// the Agent and Server binaries (§4.10, §4.11, §6.5).
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Agent holds the configuration read by the per-instance agent process.
type Agent struct {
	ServerURL string `env:"HERDGUARD_SERVER_URL,required" validate:"required,url"`
	AgentID   string `env:"HERDGUARD_AGENT_ID,required" validate:"required"`
	AuthToken string `env:"HERDGUARD_AUTH_TOKEN,required" validate:"required"`
	InputMode string `env:"HERDGUARD_INPUT_MODE" envDefault:"k8s" validate:"oneof=test k8s"`

	HeartbeatInterval     time.Duration `env:"HERDGUARD_HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gt=0"`
	PricingReportInterval time.Duration `env:"HERDGUARD_PRICING_REPORT_INTERVAL" envDefault:"5m" validate:"gt=0"`
	CommandPollInterval   time.Duration `env:"HERDGUARD_COMMAND_POLL_INTERVAL" envDefault:"10s" validate:"gt=0"`
	SignalPollInterval    time.Duration `env:"HERDGUARD_SIGNAL_POLL_INTERVAL" envDefault:"5s" validate:"gt=0"`
	CloudAPITimeout       time.Duration `env:"HERDGUARD_CLOUD_API_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	DrainTimeout          time.Duration `env:"HERDGUARD_DRAIN_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	ReadyTimeout          time.Duration `env:"HERDGUARD_READY_TIMEOUT" envDefault:"5m" validate:"gt=0"`

	// K8s atomic switch timeouts/retries (§4.7), read by the Agent's own
	// k8sswitch.Switch when InputMode is "k8s" — the node drain here is the
	// replaced node's pod drain, distinct from DrainTimeout above (the
	// process's own shutdown grace period).
	K8sNodeDrainTimeout   time.Duration `env:"HERDGUARD_K8S_NODE_DRAIN_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	K8sCordonRetries      int           `env:"HERDGUARD_K8S_CORDON_RETRIES" envDefault:"3" validate:"gt=0"`
	K8sCordonRetryBackoff time.Duration `env:"HERDGUARD_K8S_CORDON_RETRY_BACKOFF" envDefault:"2s" validate:"gt=0"`
	K8sEvictionRetryDelay time.Duration `env:"HERDGUARD_K8S_EVICTION_RETRY_DELAY" envDefault:"10s" validate:"gt=0"`
	K8sTerminateRetries   int           `env:"HERDGUARD_K8S_TERMINATE_RETRIES" envDefault:"3" validate:"gt=0"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
	MetricsAddr string `env:"HERDGUARD_METRICS_ADDR" envDefault:":9090"`

	// K8s-mode launch-template fields: only read/required when InputMode is
	// "k8s", since a mode=test Agent's InstanceSwitcher never launches a
	// replacement instance (§4.7).
	K8sNodeName           string   `env:"HERDGUARD_K8S_NODE_NAME"`
	K8sAMIID              string   `env:"HERDGUARD_K8S_AMI_ID"`
	K8sAMISSMParameter    string   `env:"HERDGUARD_K8S_AMI_SSM_PARAMETER"`
	K8sSubnetID           string   `env:"HERDGUARD_K8S_SUBNET_ID"`
	K8sSecurityGroupIDs   []string `env:"HERDGUARD_K8S_SECURITY_GROUP_IDS" envSeparator:","`
	K8sInstanceProfileARN string   `env:"HERDGUARD_K8S_INSTANCE_PROFILE_ARN"`
}

// Server holds the configuration read by the control-plane server process.
type Server struct {
	Host string `env:"HERDGUARD_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"HERDGUARD_PORT" envDefault:"8443" validate:"gt=0,lt=65536"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	MigrationsDir string `env:"HERDGUARD_MIGRATIONS_DIR" envDefault:"migrations"`

	// Regions the price-scrape job samples every PricingScrapeInterval
	// (§4.8, §4.9).
	Regions []string `env:"HERDGUARD_REGIONS,required" validate:"required,min=1" envSeparator:","`

	PoisonTTL                time.Duration `env:"HERDGUARD_POISON_TTL" envDefault:"360h" validate:"gt=0"`
	MaxCrashProbability      float64       `env:"HERDGUARD_MAX_CRASH_PROBABILITY" envDefault:"0.85" validate:"gt=0,lte=1"`
	MaxHistoricInterruptRate float64       `env:"HERDGUARD_MAX_HISTORIC_INTERRUPT_RATE" envDefault:"0.20" validate:"gt=0,lte=1"`
	RightsizeMultiplier      float64       `env:"HERDGUARD_RIGHTSIZE_MULTIPLIER" envDefault:"2.0" validate:"gt=1"`
	ReplicaReadyPromoteFloor float64       `env:"HERDGUARD_REPLICA_READY_PROMOTE_FLOOR" envDefault:"0.5" validate:"gte=0,lte=1"`

	CommandExpiry time.Duration `env:"HERDGUARD_COMMAND_EXPIRY" envDefault:"2m" validate:"gt=0"`

	// HeartbeatInterval is the cadence agents are expected to heartbeat at;
	// RunExpirySweep flips an agent OFFLINE after missedIntervalsOffline
	// missed intervals. Mirrors config.Agent's own HeartbeatInterval, which
	// each agent reads to drive the interval it actually heartbeats on.
	HeartbeatInterval time.Duration `env:"HERDGUARD_HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gt=0"`

	PricingScrapeInterval        time.Duration `env:"HERDGUARD_PRICING_SCRAPE_INTERVAL" envDefault:"5m" validate:"gt=0"`
	RiskSweepInterval            time.Duration `env:"HERDGUARD_RISK_SWEEP_INTERVAL" envDefault:"1h" validate:"gt=0"`
	ReplicaCoordinatorInterval   time.Duration `env:"HERDGUARD_REPLICA_COORDINATOR_INTERVAL" envDefault:"10s" validate:"gt=0"`
	DataQualityReconcileInterval time.Duration `env:"HERDGUARD_DATA_QUALITY_RECONCILE_INTERVAL" envDefault:"5m" validate:"gt=0"`
	K8sPipelineInterval          time.Duration `env:"HERDGUARD_K8S_PIPELINE_INTERVAL" envDefault:"30s" validate:"gt=0"`

	K8sScaleOutTimeout    time.Duration `env:"HERDGUARD_K8S_SCALE_OUT_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	K8sDrainTimeout       time.Duration `env:"HERDGUARD_K8S_DRAIN_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	K8sCordonRetries      int           `env:"HERDGUARD_K8S_CORDON_RETRIES" envDefault:"3" validate:"gt=0"`
	K8sCordonRetryBackoff time.Duration `env:"HERDGUARD_K8S_CORDON_RETRY_BACKOFF" envDefault:"2s" validate:"gt=0"`
	K8sEvictionRetryDelay time.Duration `env:"HERDGUARD_K8S_EVICTION_RETRY_DELAY" envDefault:"10s" validate:"gt=0"`
	K8sTerminateRetries   int           `env:"HERDGUARD_K8S_TERMINATE_RETRIES" envDefault:"3" validate:"gt=0"`

	CORSAllowedOrigins []string `env:"HERDGUARD_CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`

	MetricsAddr string `env:"HERDGUARD_METRICS_ADDR" envDefault:":9090"`
}

var validate = validator.New()

// LoadAgent reads and validates Agent configuration from the environment.
func LoadAgent() (*Agent, error) {
	cfg := &Agent{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing agent config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating agent config: %w", err)
	}
	return cfg, nil
}

// LoadServer reads and validates Server configuration from the environment.
func LoadServer() (*Server, error) {
	cfg := &Server{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the Server's HTTP listener should bind.
func (s *Server) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
