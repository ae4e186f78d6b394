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

// Package pipeline runs the decision pipeline (§4.2): an ordered list of
// Stages over a shared, mutable Context, producing a Verdict and (for
// SWITCH/DRAIN) a selected target Candidate.
package pipeline

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/logging"
)

// Input is the request that seeds a pipeline run (§4.3.1).
type Input struct {
	Mode domain.InputMode

	// SingleInstance (mode=test)
	CurrentType string
	CurrentAZ   string

	// K8s (mode=k8s)
	Region       string
	VCPU         int
	MemoryGB     float64
	Architecture domain.Architecture
	MinVCPU      *int
	MaxVCPU      *int
}

// Thresholds carries the configured limits the safety/filter stages apply
// (§4.2, §6.5).
type Thresholds struct {
	MaxCrashProbability      float64
	MaxHistoricInterruptRate float64
	RightsizeMultiplier      float64
}

// StageTrace records one stage's execution for observability and for the
// risk-model stage's min/avg/max reporting (§4.3.6).
type StageTrace struct {
	Stage string
	Err   error
	Info  map[string]any
}

// Context is threaded through every Stage, accumulating enrichment and
// finally a Verdict. Never mutated once the pipeline finishes (§3.5).
type Context struct {
	Input      Input
	Thresholds Thresholds

	Candidates []domain.Candidate
	// Ranked holds the valid candidates ordered by yieldScore descending,
	// populated by the yield-ranking stage (§4.3.9).
	Ranked []domain.Candidate

	AWSSignal domain.AWSSignal

	Verdict  domain.Verdict
	Selected *domain.Candidate
	Reason   string

	Trace []StageTrace
}

// RecordError appends a trace entry tagging stage with an error; later
// stages still run (§4.2: "stage errors are caught... later stages still
// run").
func (c *Context) RecordError(stage string, err error) {
	c.Trace = append(c.Trace, StageTrace{Stage: stage, Err: err})
}

// Record appends a successful trace entry with arbitrary diagnostic info.
func (c *Context) Record(stage string, info map[string]any) {
	c.Trace = append(c.Trace, StageTrace{Stage: stage, Info: info})
}

// ValidCandidates returns the subset of c.Candidates still marked valid, in
// their original order.
func (c *Context) ValidCandidates() []domain.Candidate {
	return lo.Filter(c.Candidates, func(cand domain.Candidate, _ int) bool {
		return cand.IsValid
	})
}

// FilterReasons aggregates the distinct filter reasons across all
// candidates, used for the SafetyAbort STAY reason (§7, §8 invariant 8).
func (c *Context) FilterReasons() []string {
	all := lo.FlatMap(c.Candidates, func(cand domain.Candidate, _ int) []string {
		return cand.FilterReason
	})
	return lo.Uniq(all)
}

// Stage mutates a Context in place. Name identifies the stage in traces and
// in the orchestrator's required-stage check.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}

// requiredStages are non-skippable per §4.2: "Input, RiskModel,
// ReactiveOverride, Actuator".
var requiredStages = map[string]bool{
	"input":            true,
	"risk-model":        true,
	"reactive-override": true,
	"actuator":          true,
}

// Orchestrator executes a configured stage sequence over a Context.
type Orchestrator struct {
	stages []Stage
}

// New builds an Orchestrator. It panics if any required stage name is
// missing from stages — this is a wiring bug, not a runtime condition.
func New(stages ...Stage) *Orchestrator {
	present := map[string]bool{}
	for _, s := range stages {
		present[s.Name()] = true
	}
	for name := range requiredStages {
		if !present[name] {
			panic(fmt.Sprintf("pipeline: required stage %q not configured", name))
		}
	}
	return &Orchestrator{stages: stages}
}

// Execute runs every configured stage over pc in order, trapping stage
// errors so the pipeline always emits a verdict (§4.2, §7).
func (o *Orchestrator) Execute(ctx context.Context, pc *Context) *Context {
	logger := logging.FromContext(ctx)
	for _, stage := range o.stages {
		if err := stage.Run(ctx, pc); err != nil {
			logger.V(1).Info("pipeline stage returned an error", "stage", stage.Name(), "error", err.Error())
			pc.RecordError(stage.Name(), err)
			continue
		}
	}
	if pc.Verdict == "" {
		pc.Verdict = domain.VerdictStay
		if pc.Reason == "" {
			pc.Reason = "no candidates"
		}
	}
	return pc
}
