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

// Command agent runs the per-instance Agent process of §4.5: it resolves
// its own identity from the local instance-metadata service, registers with
// the Server, and then runs the heartbeat, pricing-report, signal-poll, and
// command-poll loops until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/multierr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/herdguard/herdguard/pkg/agent"
	"github.com/herdguard/herdguard/pkg/config"
	"github.com/herdguard/herdguard/pkg/k8sswitch"
	"github.com/herdguard/herdguard/pkg/logging"
	"github.com/herdguard/herdguard/pkg/pipeline"
	"github.com/herdguard/herdguard/pkg/providers/advisor"
	"github.com/herdguard/herdguard/pkg/providers/ami"
	"github.com/herdguard/herdguard/pkg/providers/metadata"
	"github.com/herdguard/herdguard/pkg/providers/price"
	"github.com/herdguard/herdguard/pkg/providers/riskmodel"
	signalprovider "github.com/herdguard/herdguard/pkg/providers/signal"
)

// pricingAPIRegion is the nearest AWS Pricing API endpoint; the Pricing API
// itself is only served from a handful of regions regardless of where the
// instance actually runs (see pkg/providers/price.New's doc comment).
const pricingAPIRegion = "us-east-1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.Build(cfg.LogLevel, cfg.LogFormat, "agent")
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	imdsClient := imds.NewFromConfig(awsCfg)
	identity, err := resolveIdentity(ctx, imdsClient, cfg.K8sNodeName)
	if err != nil {
		return fmt.Errorf("resolving instance identity: %w", err)
	}
	logger.Info("resolved instance identity", "instance-id", identity.CloudInstanceID, "type", identity.Type, "az", identity.AZ)

	ec2Client := ec2.NewFromConfig(awsCfg)
	pricingClient := pricing.NewFromConfig(awsCfg, func(o *pricing.Options) { o.Region = pricingAPIRegion })
	ssmClient := ssm.NewFromConfig(awsCfg)

	switcher, err := buildSwitcher(ctx, cfg, identity, ec2Client, ssmClient)
	if err != nil {
		return fmt.Errorf("building switcher: %w", err)
	}

	deps := agent.Deps{
		Prices:   price.New(ec2Client, pricingClient, identity.Region),
		Metadata: metadata.New(ec2Client),
		Advisor:  advisor.New(identity.Region),
		Signals:  signalprovider.New(imdsClient),
		Risk:     riskmodel.New(),
		Switcher: switcher,
	}
	if adv, ok := deps.Advisor.(*advisor.Provider); ok {
		go adv.RefreshLoop(ctx)
	}

	httpClient := &http.Client{Timeout: cfg.CloudAPITimeout}
	agentClient := agent.NewClient(cfg.ServerURL, cfg.AuthToken, httpClient)

	a := agent.New(cfg, identity, agentClient, deps)
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("running agent: %w", err)
	}
	return nil
}

// resolveIdentity reads the instance's own id, type, region, and AZ from the
// local instance-metadata service (§6.2), the same source
// pkg/providers/signal polls for interruption signals.
func resolveIdentity(ctx context.Context, imdsClient *imds.Client, nodeName string) (agent.Identity, error) {
	instanceID, err := fetchMetadata(ctx, imdsClient, "instance-id")
	if err != nil {
		return agent.Identity{}, err
	}
	instanceType, err := fetchMetadata(ctx, imdsClient, "instance-type")
	if err != nil {
		return agent.Identity{}, err
	}
	az, err := fetchMetadata(ctx, imdsClient, "placement/availability-zone")
	if err != nil {
		return agent.Identity{}, err
	}
	hostname, _ := os.Hostname()

	return agent.Identity{
		Hostname:        hostname,
		CloudInstanceID: instanceID,
		Type:            instanceType,
		Region:          az[:len(az)-1],
		AZ:              az,
		Version:         versionOrNodeName(nodeName),
	}, nil
}

// versionOrNodeName reports the configured k8s node name as the identity's
// Version field when set, since there is no separate build-version input
// wired into config.Agent yet; empty otherwise.
func versionOrNodeName(nodeName string) string {
	return nodeName
}

func fetchMetadata(ctx context.Context, imdsClient *imds.Client, path string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := imdsClient.GetMetadata(fetchCtx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return "", fmt.Errorf("fetching metadata path %q: %w", path, err)
	}
	defer out.Content.Close()
	buf := make([]byte, 256)
	n, err := out.Content.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("reading metadata path %q: %w", path, err)
	}
	return string(buf[:n]), nil
}

// buildSwitcher constructs the mode-appropriate pipeline.Switcher: a direct
// InstanceSwitcher for mode=test, or a k8sswitch.Switch wired against the
// in-cluster API server and a launch template built from the K8s* config
// fields for mode=k8s (§4.3.11, §4.7).
func buildSwitcher(ctx context.Context, cfg *config.Agent, identity agent.Identity, ec2Client *ec2.Client, ssmClient *ssm.Client) (pipeline.Switcher, error) {
	if cfg.InputMode != "k8s" {
		return agent.NewInstanceSwitcher(ec2Client, identity.CloudInstanceID, identity.AZ), nil
	}

	var validationErr error
	if cfg.K8sNodeName == "" {
		validationErr = multierr.Append(validationErr, fmt.Errorf("HERDGUARD_K8S_NODE_NAME is required in k8s mode"))
	}
	if cfg.K8sSubnetID == "" {
		validationErr = multierr.Append(validationErr, fmt.Errorf("HERDGUARD_K8S_SUBNET_ID is required in k8s mode"))
	}
	if cfg.K8sAMIID == "" && cfg.K8sAMISSMParameter == "" {
		validationErr = multierr.Append(validationErr, fmt.Errorf("one of HERDGUARD_K8S_AMI_ID or HERDGUARD_K8S_AMI_SSM_PARAMETER is required in k8s mode"))
	}
	if validationErr != nil {
		return nil, validationErr
	}

	amiID := cfg.K8sAMIID
	if amiID == "" {
		resolved, err := ami.New(ssmClient).Resolve(ctx, cfg.K8sAMISSMParameter)
		if err != nil {
			return nil, fmt.Errorf("resolving AMI from SSM parameter %q: %w", cfg.K8sAMISSMParameter, err)
		}
		amiID = resolved
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading in-cluster config: %w", err)
	}
	k8sClient, err := client.New(restCfg, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("building controller-runtime client: %w", err)
	}

	launchTemplate := &ec2.RunInstancesInput{
		ImageId:          &amiID,
		SubnetId:         &cfg.K8sSubnetID,
		MinCount:         awsInt32(1),
		MaxCount:         awsInt32(1),
		SecurityGroupIds: cfg.K8sSecurityGroupIDs,
	}
	if cfg.K8sInstanceProfileARN != "" {
		launchTemplate.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{Arn: &cfg.K8sInstanceProfileARN}
	}

	return k8sswitch.NewSwitch(k8sClient, ec2Client, cfg.K8sNodeName, identity.CloudInstanceID, launchTemplate, k8sswitch.Config{
		ScaleOutTimeout:    cfg.ReadyTimeout,
		DrainTimeout:       cfg.K8sNodeDrainTimeout,
		CordonRetries:      cfg.K8sCordonRetries,
		CordonRetryBackoff: cfg.K8sCordonRetryBackoff,
		EvictionRetryDelay: cfg.K8sEvictionRetryDelay,
		TerminateRetries:   cfg.K8sTerminateRetries,
	}), nil
}

func awsInt32(v int32) *int32 { return &v }
