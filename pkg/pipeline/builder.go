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

package pipeline

import (
	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/providers"
)

// Deps bundles every collaborator the standard stage sequence needs.
type Deps struct {
	Prices   providers.PriceProvider
	Metadata providers.InstanceMetadataProvider
	Advisor  providers.SpotAdvisor
	Signals  providers.SignalProvider
	Risk     providers.RiskModel
	Tracker  RiskTracker
	Actuator Actuator
}

// BuildOrchestrator assembles the §4.3 stage sequence for a given input
// mode, wired against deps. This is the standard production wiring; tests
// are free to build narrower Orchestrators directly from individual stages.
func BuildOrchestrator(mode domain.InputMode, deps Deps) *Orchestrator {
	var input Stage
	switch mode {
	case domain.InputModeK8s:
		input = &K8sInput{Prices: deps.Prices, Metadata: deps.Metadata}
	default:
		input = &SingleInstanceInput{Prices: deps.Prices, Metadata: deps.Metadata}
	}

	return New(
		input,
		HardwareFilter{},
		&SpotAdvisorFilter{Advisor: deps.Advisor},
		RightsizeExpander{},
		&GlobalRiskFilter{Tracker: deps.Tracker},
		&RiskModelStage{Model: deps.Risk},
		SafetyGate{},
		BinPacking{},
		YieldRanking{},
		&ReactiveOverride{Signals: deps.Signals},
		&ActuatorStage{Actuator: deps.Actuator},
	)
}

// DefaultThresholds mirrors the §4.2 configured defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxCrashProbability:      0.85,
		MaxHistoricInterruptRate: 0.20,
		RightsizeMultiplier:      2.0,
	}
}
