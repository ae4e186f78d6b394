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
	"context"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
)

// Actuator is the pluggable output adapter of §4.3.11. Implementations
// return whether the action succeeded; a false/err result never changes the
// verdict the pipeline already rendered — only how the caller reports it.
type Actuator interface {
	Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error)
}

// LogActuator records the intended action without any side effect. Used in
// shadow mode and in tests.
type LogActuator struct{}

func (LogActuator) Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error) {
	logger := logging.FromContext(ctx)
	if selected != nil {
		logger.Info("shadow-mode verdict", "verdict", verdict, "instance-type", selected.InstanceType, "az", selected.AZ)
	} else {
		logger.Info("shadow-mode verdict", "verdict", verdict)
	}
	return true, nil
}

// Switcher performs the actual cloud-side move for a verdict. Implemented
// by the single-instance atomic switch (Agent-local) and by the K8s Atomic
// Switch module for cluster-aware moves.
type Switcher interface {
	Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error
}

// SingleInstanceActuator invokes a Switcher against the cloud API directly,
// for Agents running outside Kubernetes (§4.3.11).
type SingleInstanceActuator struct {
	Switcher Switcher
}

func (s *SingleInstanceActuator) Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error) {
	if verdict == domain.VerdictStay {
		return true, nil
	}
	if err := s.Switcher.Switch(ctx, verdict, selected); err != nil {
		return false, err
	}
	return true, nil
}

// K8sActuator delegates to the K8s Atomic Switch module (scale-out, wait-
// ready, cordon, drain, terminate) for cluster-managed workloads.
type K8sActuator struct {
	Switcher Switcher
}

func (k *K8sActuator) Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error) {
	if verdict == domain.VerdictStay {
		return true, nil
	}
	if err := k.Switcher.Switch(ctx, verdict, selected); err != nil {
		return false, err
	}
	return true, nil
}

// ActuatorStage wraps an Actuator as the required, non-skippable final
// pipeline stage.
type ActuatorStage struct {
	Actuator Actuator
}

func (ActuatorStage) Name() string { return "actuator" }

func (a *ActuatorStage) Run(ctx context.Context, pc *Context) error {
	ok, err := a.Actuator.Act(ctx, pc.Verdict, pc.Selected)
	pc.Record("actuator", map[string]any{"succeeded": ok})
	if err != nil {
		return err
	}
	return nil
}
