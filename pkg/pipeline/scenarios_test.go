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
	"strings"
	"testing"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/pipeline"
	"github.com/herdguard/herdguard/pkg/providers"
)

func mustPool(t *testing.T, az, instanceType string) domain.Pool {
	t.Helper()
	p, err := domain.NewPool(az, instanceType)
	if err != nil {
		t.Fatalf("NewPool(%q, %q) error: %v", az, instanceType, err)
	}
	return p
}

func newHarness(mode domain.InputMode, prices *fakePrices, metadata *fakeMetadata, advisor *fakeAdvisor, risk *fakeRiskModel, tracker *fakeTracker, signals *fakeSignals, actuator *fakeActuator) *pipeline.Orchestrator {
	return pipeline.BuildOrchestrator(mode, pipeline.Deps{
		Prices:   prices,
		Metadata: metadata,
		Advisor:  advisor,
		Signals:  signals,
		Risk:     risk,
		Tracker:  tracker,
		Actuator: actuator,
	})
}

// S1: test-mode STAY — single candidate, risk model returns a safe
// probability, no AWS signal.
func TestScenarioS1TestModeStay(t *testing.T) {
	prices := &fakePrices{
		spot:     map[string]float64{"c5.large:us-east-1a": 0.028},
		onDemand: map[string]float64{"c5.large": 0.085},
	}
	metadata := &fakeMetadata{byType: map[string]providers.InstanceMetadata{
		"c5.large": {VCPU: 2, MemoryGB: 4, Architecture: domain.ArchX86_64},
	}}
	advisor := &fakeAdvisor{rates: map[string]float64{"c5.large:us-east-1a": 0.05}}
	pool := mustPool(t, "us-east-1a", "c5.large")
	risk := &fakeRiskModel{probs: map[string]float64{pool.ID(): 0.20}}
	tracker := &fakeTracker{}
	signals := &fakeSignals{signal: domain.SignalNone}
	actuator := &fakeActuator{}

	orch := newHarness(domain.InputModeTest, prices, metadata, advisor, risk, tracker, signals, actuator)
	pc := &pipeline.Context{
		Input:      pipeline.Input{Mode: domain.InputModeTest, CurrentType: "c5.large", CurrentAZ: "us-east-1a"},
		Thresholds: pipeline.DefaultThresholds(),
	}

	out := orch.Execute(context.Background(), pc)

	if out.Verdict != domain.VerdictStay {
		t.Fatalf("verdict = %s, want STAY", out.Verdict)
	}
	if out.Selected == nil || out.Selected.InstanceType != "c5.large" {
		t.Fatalf("selected = %+v, want current candidate", out.Selected)
	}
	if actuator.calls != 1 {
		t.Fatalf("actuator called %d times, want 1", actuator.calls)
	}
}

// S2: test-mode SWITCH — current candidate's crash probability exceeds
// threshold; a safer alternative exists.
//
// The test-mode Input Adapter only ever builds a single candidate (the
// host's own pool), so the second candidate the scenario describes is
// appended by hand before running the rest of the stage sequence.
func TestScenarioS2TestModeSwitch(t *testing.T) {
	prices := &fakePrices{
		spot: map[string]float64{
			"c5.large:us-east-1a": 0.028,
			"c5.large:us-east-1c": 0.025,
		},
		onDemand: map[string]float64{"c5.large": 0.085},
	}
	metadata := &fakeMetadata{byType: map[string]providers.InstanceMetadata{
		"c5.large": {VCPU: 2, MemoryGB: 4, Architecture: domain.ArchX86_64},
	}}
	advisor := &fakeAdvisor{rates: map[string]float64{
		"c5.large:us-east-1a": 0.05,
		"c5.large:us-east-1c": 0.05,
	}}
	poolA := mustPool(t, "us-east-1a", "c5.large")
	poolC := mustPool(t, "us-east-1c", "c5.large")
	risk := &fakeRiskModel{probs: map[string]float64{
		poolA.ID(): 0.90,
		poolC.ID(): 0.15,
	}}
	tracker := &fakeTracker{}
	signals := &fakeSignals{signal: domain.SignalNone}
	actuator := &fakeActuator{}

	pc := &pipeline.Context{
		Input:      pipeline.Input{Mode: domain.InputModeTest, CurrentType: "c5.large", CurrentAZ: "us-east-1a"},
		Thresholds: pipeline.DefaultThresholds(),
	}

	inputStage := &pipeline.SingleInstanceInput{Prices: prices, Metadata: metadata}
	if err := inputStage.Run(context.Background(), pc); err != nil {
		t.Fatalf("input stage error: %v", err)
	}
	alt := domain.Candidate{InstanceType: "c5.large", AZ: "us-east-1c", SpotPrice: 0.025, OnDemand: 0.085, VCPU: 2, MemoryGB: 4, Architecture: domain.ArchX86_64, IsValid: true}
	alt.ComputeDiscountDepth()
	pc.Candidates = append(pc.Candidates, alt)

	stages := []pipeline.Stage{
		pipeline.HardwareFilter{},
		&pipeline.SpotAdvisorFilter{Advisor: advisor},
		pipeline.RightsizeExpander{},
		&pipeline.GlobalRiskFilter{Tracker: tracker},
		&pipeline.RiskModelStage{Model: risk},
		pipeline.SafetyGate{},
		pipeline.BinPacking{},
		pipeline.YieldRanking{},
		&pipeline.ReactiveOverride{Signals: signals},
		&pipeline.ActuatorStage{Actuator: actuator},
	}
	for _, stage := range stages {
		if err := stage.Run(context.Background(), pc); err != nil {
			t.Fatalf("stage %s error: %v", stage.Name(), err)
		}
	}

	if pc.Verdict != domain.VerdictSwitch {
		t.Fatalf("verdict = %s, want SWITCH", pc.Verdict)
	}
	if pc.Selected == nil || pc.Selected.AZ != "us-east-1c" {
		t.Fatalf("selected = %+v, want us-east-1c", pc.Selected)
	}
	if !strings.Contains(pc.Reason, "crash probability") {
		t.Fatalf("reason = %q, want it to mention crash probability", pc.Reason)
	}
}

// S4: REBALANCE signal short-circuits ranking straight to DRAIN.
func TestScenarioS4Rebalance(t *testing.T) {
	pc := &pipeline.Context{
		Input:      pipeline.Input{Mode: domain.InputModeK8s},
		Thresholds: pipeline.DefaultThresholds(),
		Candidates: []domain.Candidate{
			{InstanceType: "m5.large", AZ: "az-a", SpotPrice: 0.05, IsValid: true, HasCrashProbability: true, CrashProbability: 0.3, YieldScore: 10},
			{InstanceType: "m5.large", AZ: "az-c", SpotPrice: 0.04, IsValid: true, HasCrashProbability: true, CrashProbability: 0.1, YieldScore: 50},
		},
	}
	ranker := pipeline.YieldRanking{}
	if err := ranker.Run(context.Background(), pc); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}

	override := &pipeline.ReactiveOverride{Signals: &fakeSignals{signal: domain.SignalRebalance}}
	if err := override.Run(context.Background(), pc); err != nil {
		t.Fatalf("reactive override error: %v", err)
	}

	if pc.Verdict != domain.VerdictDrain {
		t.Fatalf("verdict = %s, want DRAIN", pc.Verdict)
	}
	if pc.Selected == nil || pc.Selected.AZ != "az-c" {
		t.Fatalf("selected = %+v, want az-c (top ranked)", pc.Selected)
	}
}

// TERMINATION always evacuates, regardless of ranking (§8 invariant 7).
func TestTerminationOverridesRanking(t *testing.T) {
	pc := &pipeline.Context{
		Input: pipeline.Input{Mode: domain.InputModeTest, CurrentType: "c5.large", CurrentAZ: "us-east-1a"},
		Candidates: []domain.Candidate{
			{InstanceType: "c5.large", AZ: "us-east-1a", IsValid: true, YieldScore: 0},
			{InstanceType: "c5.large", AZ: "us-east-1c", IsValid: true, YieldScore: 99},
		},
	}
	ranker := pipeline.YieldRanking{}
	if err := ranker.Run(context.Background(), pc); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}
	override := &pipeline.ReactiveOverride{Signals: &fakeSignals{signal: domain.SignalTermination}}
	if err := override.Run(context.Background(), pc); err != nil {
		t.Fatalf("reactive override error: %v", err)
	}
	if pc.Verdict != domain.VerdictEvacuate {
		t.Fatalf("verdict = %s, want EVACUATE", pc.Verdict)
	}
	if pc.Selected == nil || pc.Selected.AZ != "us-east-1a" {
		t.Fatalf("selected = %+v, want current candidate", pc.Selected)
	}
}

// §8 invariant 8: all valid candidates filtered out before the ranker ->
// STAY with a non-empty reason set.
func TestAllCandidatesFilteredYieldsStayWithReasons(t *testing.T) {
	pc := &pipeline.Context{
		Input: pipeline.Input{Mode: domain.InputModeK8s},
		Candidates: []domain.Candidate{
			{InstanceType: "m5.large", AZ: "az-a", IsValid: false, FilterReason: []string{"historic interrupt rate >= threshold"}},
		},
	}
	ranker := pipeline.YieldRanking{}
	if err := ranker.Run(context.Background(), pc); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}
	override := &pipeline.ReactiveOverride{Signals: &fakeSignals{signal: domain.SignalNone}}
	if err := override.Run(context.Background(), pc); err != nil {
		t.Fatalf("reactive override error: %v", err)
	}
	if pc.Verdict != domain.VerdictStay {
		t.Fatalf("verdict = %s, want STAY", pc.Verdict)
	}
	if len(pc.FilterReasons()) == 0 {
		t.Fatal("expected a non-empty filter-reason set")
	}
}

// Zero candidates after input, K8s mode -> STAY, reason "no alternatives"
// (§4.3.10; the generic orchestrator fallback reason "no candidates" only
// applies when reactive-override itself never set a verdict).
func TestZeroCandidatesYieldsStayNoAlternativesReason(t *testing.T) {
	pc := &pipeline.Context{Input: pipeline.Input{Mode: domain.InputModeK8s}, Thresholds: pipeline.DefaultThresholds()}
	orch := pipeline.New(
		&pipeline.K8sInput{Prices: &fakePrices{}, Metadata: &fakeMetadata{byType: map[string]providers.InstanceMetadata{}}},
		pipeline.HardwareFilter{},
		&pipeline.SpotAdvisorFilter{Advisor: &fakeAdvisor{}},
		pipeline.RightsizeExpander{},
		&pipeline.GlobalRiskFilter{Tracker: &fakeTracker{}},
		&pipeline.RiskModelStage{Model: &fakeRiskModel{}},
		pipeline.SafetyGate{},
		pipeline.BinPacking{},
		pipeline.YieldRanking{},
		&pipeline.ReactiveOverride{Signals: &fakeSignals{signal: domain.SignalNone}},
		&pipeline.ActuatorStage{Actuator: &fakeActuator{}},
	)
	pc.Input.Region = "us-east-1"
	pc.Input.VCPU = 2
	pc.Input.MemoryGB = 4
	pc.Input.Architecture = domain.ArchX86_64

	out := orch.Execute(context.Background(), pc)
	if out.Verdict != domain.VerdictStay {
		t.Fatalf("verdict = %s, want STAY", out.Verdict)
	}
	if out.Reason != "no alternatives" {
		t.Fatalf("reason = %q, want %q", out.Reason, "no alternatives")
	}
}

// Boundary: crashProbability exactly equal to the threshold passes the
// safety gate (strict '>' only).
func TestSafetyGateBoundaryEqualsThresholdPasses(t *testing.T) {
	pc := &pipeline.Context{
		Thresholds: pipeline.Thresholds{MaxCrashProbability: 0.85},
		Candidates: []domain.Candidate{
			{InstanceType: "c5.large", AZ: "us-east-1a", IsValid: true, HasCrashProbability: true, CrashProbability: 0.85},
		},
	}
	gate := pipeline.SafetyGate{}
	if err := gate.Run(context.Background(), pc); err != nil {
		t.Fatalf("safety gate error: %v", err)
	}
	if !pc.Candidates[0].IsValid {
		t.Fatal("candidate at exactly the threshold should pass (strict > only)")
	}
}

func TestSafetyGateBoundaryOverThresholdFails(t *testing.T) {
	pc := &pipeline.Context{
		Thresholds: pipeline.Thresholds{MaxCrashProbability: 0.85},
		Candidates: []domain.Candidate{
			{InstanceType: "c5.large", AZ: "us-east-1a", IsValid: true, HasCrashProbability: true, CrashProbability: 0.8500001},
		},
	}
	gate := pipeline.SafetyGate{}
	if err := gate.Run(context.Background(), pc); err != nil {
		t.Fatalf("safety gate error: %v", err)
	}
	if pc.Candidates[0].IsValid {
		t.Fatal("candidate over the threshold should be filtered")
	}
}

// §8 invariant 6: equal-yieldScore candidates must still rank deterministically,
// independent of input order, on lowest spot price as the first tie-break.
func TestYieldRankingTieBreaksOnSpotPrice(t *testing.T) {
	pc := &pipeline.Context{
		Candidates: []domain.Candidate{
			{InstanceType: "m5.large", AZ: "us-east-1a", IsValid: true, SpotPrice: 0.03, WasteCost: 0.02},
			{InstanceType: "m5.large", AZ: "us-east-1b", IsValid: true, SpotPrice: 0.01, WasteCost: 0.04},
		},
	}
	ranker := pipeline.YieldRanking{}
	if err := ranker.Run(context.Background(), pc); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}
	if len(pc.Ranked) != 2 || pc.Ranked[0].YieldScore != pc.Ranked[1].YieldScore {
		t.Fatalf("expected a genuine yieldScore tie, got %+v", pc.Ranked)
	}
	if pc.Ranked[0].AZ != "us-east-1b" {
		t.Fatalf("ranked[0] = %+v, want us-east-1b (lowest spot price)", pc.Ranked[0])
	}
}

// When yieldScore and spot price both tie, the pool-id (AZ then type) is the
// final, deterministic tie-break regardless of input order.
func TestYieldRankingTieBreaksOnPoolIDWhenSpotPriceAlsoTies(t *testing.T) {
	pc := &pipeline.Context{
		Candidates: []domain.Candidate{
			{InstanceType: "m5.large", AZ: "us-east-1b", IsValid: true, SpotPrice: 0.05},
			{InstanceType: "m5.large", AZ: "us-east-1a", IsValid: true, SpotPrice: 0.05},
		},
	}
	ranker := pipeline.YieldRanking{}
	if err := ranker.Run(context.Background(), pc); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}
	if pc.Ranked[0].AZ != "us-east-1a" {
		t.Fatalf("ranked[0] = %+v, want us-east-1a (lexicographically smallest pool-id)", pc.Ranked[0])
	}

	// Reversed input order must produce the same result.
	pc2 := &pipeline.Context{
		Candidates: []domain.Candidate{
			{InstanceType: "m5.large", AZ: "us-east-1a", IsValid: true, SpotPrice: 0.05},
			{InstanceType: "m5.large", AZ: "us-east-1b", IsValid: true, SpotPrice: 0.05},
		},
	}
	if err := ranker.Run(context.Background(), pc2); err != nil {
		t.Fatalf("yield ranking error: %v", err)
	}
	if pc2.Ranked[0].AZ != "us-east-1a" {
		t.Fatalf("ranked[0] = %+v, want us-east-1a regardless of input order", pc2.Ranked[0])
	}
}
