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

// Package ami resolves a replacement instance's AMI ID from a public SSM
// parameter (e.g. the EKS-optimized-AMI recommended-image-id parameters),
// fronted by an in-process cache so a scale-out never blocks a repeated SSM
// round trip for the same query.
package ami

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	gocache "github.com/patrickmn/go-cache"
)

// cacheTTL bounds how long a resolved AMI ID is trusted before the next
// scale-out re-queries SSM; long enough that a burst of replacements for
// the same pool only pays the SSM round trip once.
const cacheTTL = 1 * time.Hour

// SSMAPI is the subset of the SSM client this resolver calls, narrowed for
// testability.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver resolves AMI IDs from SSM parameter names.
type Resolver struct {
	ssmAPI SSMAPI
	cache  *gocache.Cache
}

// New builds a Resolver over ssmAPI.
func New(ssmAPI SSMAPI) *Resolver {
	return &Resolver{
		ssmAPI: ssmAPI,
		cache:  gocache.New(cacheTTL, cacheTTL/2),
	}
}

// Resolve returns the AMI ID held by the SSM parameter at query, e.g.
// "/aws/service/eks/optimized-ami/1.31/amazon-linux-2023/x86_64/standard/
// recommended/image_id".
func (r *Resolver) Resolve(ctx context.Context, query string) (string, error) {
	if id, ok := r.cache.Get(query); ok {
		return id.(string), nil
	}

	out, err := r.ssmAPI.GetParameter(ctx, &ssm.GetParameterInput{Name: &query})
	if err != nil {
		return "", fmt.Errorf("getting ssm parameter %q: %w", query, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", query)
	}

	ami := *out.Parameter.Value
	r.cache.SetDefault(query, ami)
	return ami, nil
}
