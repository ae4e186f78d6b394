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

package pipeline_test

import (
	"context"
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/pipeline"
	"github.com/herdguard/herdguard/pkg/providers"
)

// fakePrices serves fixed spot/on-demand prices keyed by "type:az" and
// "type" respectively.
type fakePrices struct {
	spot     map[string]float64
	onDemand map[string]float64
	bulk     map[domain.Pool]float64
}

func (f *fakePrices) Spot(_ context.Context, instanceType, az string) (float64, error) {
	v, ok := f.spot[instanceType+":"+az]
	if !ok {
		return 0, errorkind.New(errorkind.DataGap, "no spot price for %s:%s", instanceType, az)
	}
	return v, nil
}

func (f *fakePrices) OnDemand(_ context.Context, instanceType string) (float64, error) {
	v, ok := f.onDemand[instanceType]
	if !ok {
		return 0, errorkind.New(errorkind.DataGap, "no on-demand price for %s", instanceType)
	}
	return v, nil
}

func (f *fakePrices) BulkSpot(_ context.Context, _ string) (map[domain.Pool]float64, error) {
	return f.bulk, nil
}

// fakeMetadata serves fixed hardware shapes keyed by instance type.
type fakeMetadata struct {
	byType map[string]providers.InstanceMetadata
}

func (f *fakeMetadata) Metadata(_ context.Context, instanceType string) (providers.InstanceMetadata, error) {
	m, ok := f.byType[instanceType]
	if !ok {
		return providers.InstanceMetadata{}, errorkind.New(errorkind.NotFound, "unknown type %s", instanceType)
	}
	return m, nil
}

func (f *fakeMetadata) BulkMetadata(_ context.Context, _ string) (map[string]providers.InstanceMetadata, error) {
	return f.byType, nil
}

// fakeAdvisor returns a fixed interrupt rate per "type:az" key, falling
// back to defaultRate otherwise.
type fakeAdvisor struct {
	rates map[string]float64
}

func (f *fakeAdvisor) InterruptRate(_ context.Context, instanceType, az string, defaultRate float64) (float64, error) {
	if r, ok := f.rates[instanceType+":"+az]; ok {
		return r, nil
	}
	return defaultRate, nil
}

// fakeSignals always returns a fixed AWSSignal.
type fakeSignals struct {
	signal domain.AWSSignal
}

func (f *fakeSignals) Poll(_ context.Context) domain.AWSSignal { return f.signal }

// fakeRiskModel returns a fixed crash probability per "type:az" key.
type fakeRiskModel struct {
	probs map[string]float64
	err   error
}

func (f *fakeRiskModel) FeatureVersion() string { return "test-v1" }

func (f *fakeRiskModel) Predict(_ context.Context, candidates []domain.Candidate) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		pool, err := c.Pool()
		if err != nil {
			continue
		}
		if p, ok := f.probs[pool.ID()]; ok {
			out[pool.ID()] = p
		}
	}
	return out, nil
}

// fakeTracker reports every pool safe unless explicitly poisoned.
type fakeTracker struct {
	poisoned map[string]int
}

func (f *fakeTracker) IsPoolSafe(_ context.Context, poolID string, _ time.Time) (bool, []domain.RiskEvent, error) {
	if n, ok := f.poisoned[poolID]; ok && n > 0 {
		events := make([]domain.RiskEvent, n)
		return false, events, nil
	}
	return true, nil, nil
}

// fakeActuator records the last verdict/selected it was asked to act on.
type fakeActuator struct {
	calls int
}

func (f *fakeActuator) Act(_ context.Context, _ domain.Verdict, _ *domain.Candidate) (bool, error) {
	f.calls++
	return true, nil
}
