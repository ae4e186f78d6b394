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

// Package signal implements providers.SignalProvider against the local EC2
// instance metadata service (§6.2). Both checked paths are advisory: the
// service returns 404 when a signal is not present, and that is
// indistinguishable from the service being briefly unreachable, so any
// error (including a timeout) maps to domain.SignalNone rather than being
// propagated — the design explicitly favors missing a signal over
// fabricating one.
package signal

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
)

// fetchTimeout bounds each metadata-service call (§6.2: "2-second timeout
// per fetch").
const fetchTimeout = 2 * time.Second

const (
	spotActionPath = "spot/instance-action"
	rebalancePath  = "events/recommendations/rebalance"
)

// IMDSClient is the subset of the instance-metadata client this provider
// calls.
type IMDSClient interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// Provider implements providers.SignalProvider.
type Provider struct {
	client IMDSClient
}

// New builds a Provider. client is typically imds.New(imds.Options{}).
func New(client IMDSClient) *Provider {
	return &Provider{client: client}
}

// Poll implements providers.SignalProvider.
func (p *Provider) Poll(ctx context.Context) domain.AWSSignal {
	if p.present(ctx, spotActionPath) {
		return domain.SignalTermination
	}
	if p.present(ctx, rebalancePath) {
		return domain.SignalRebalance
	}
	return domain.SignalNone
}

func (p *Provider) present(ctx context.Context, path string) bool {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	out, err := p.client.GetMetadata(fetchCtx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		logging.FromContext(ctx).V(1).Info("metadata signal check failed, treating as absent", "path", path, "error", err.Error())
		return false
	}
	defer out.Content.Close()
	return true
}
