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

package k8sswitch_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/k8sswitch"
)

func testConfig() k8sswitch.Config {
	return k8sswitch.Config{
		ScaleOutTimeout:    200 * time.Millisecond,
		DrainTimeout:       200 * time.Millisecond,
		CordonRetries:      3,
		CordonRetryBackoff: time.Millisecond,
		EvictionRetryDelay: time.Millisecond,
		TerminateRetries:   3,
	}
}

type fakeEC2 struct {
	runOut        *ec2.RunInstancesOutput
	runErr        error
	terminateErr  error
	terminatedIDs []string
}

func (f *fakeEC2) RunInstances(_ context.Context, _ *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.runOut, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminatedIDs = append(f.terminatedIDs, params.InstanceIds...)
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

// fakeEvictor records eviction attempts and can be told to refuse a given
// pod name a fixed number of times before succeeding, standing in for a
// pod disruption budget that clears after a few retries.
type fakeEvictor struct {
	refusals map[string]int
	evicted  []string
}

func (f *fakeEvictor) Evict(_ context.Context, pod *corev1.Pod) error {
	if f.refusals[pod.Name] > 0 {
		f.refusals[pod.Name]--
		return apierrors.NewTooManyRequests("pdb violation", 1)
	}
	f.evicted = append(f.evicted, pod.Name)
	return nil
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		panic(err)
	}
	return scheme
}

func readyNode(name, instanceID string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec:       corev1.NodeSpec{ProviderID: "aws:///us-east-1a/" + instanceID},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
		},
	}
}

func daemonSetPod(name, node string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: name, Namespace: "default",
			OwnerReferences: []metav1.OwnerReference{{Kind: "DaemonSet", Name: "ds", APIVersion: "apps/v1", UID: "ds-uid"}},
		},
		Spec: corev1.PodSpec{NodeName: node},
	}
}

func regularPod(name, node string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Spec:       corev1.PodSpec{NodeName: node},
	}
}

func newSwitchForTest(kc client.Client, ec2API k8sswitch.EC2API, evictor k8sswitch.Evictor, cfg k8sswitch.Config) *k8sswitch.Switch {
	sw := k8sswitch.NewSwitch(kc, ec2API, "old-node", "i-oldinstance", &ec2.RunInstancesInput{}, cfg)
	sw.Evictor = evictor
	return sw
}

func TestSwitchFullSequence(t *testing.T) {
	oldNode := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "old-node"}}
	newNode := readyNode("new-node", "i-newinstance")
	ds := daemonSetPod("ds-pod", "old-node")
	app := regularPod("app-pod", "old-node")

	kc := fake.NewClientBuilder().WithScheme(newScheme()).
		WithObjects(oldNode, newNode, ds, app).
		Build()

	ec2Fake := &fakeEC2{
		runOut: &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: strPtr("i-newinstance")}}},
	}
	evictor := &fakeEvictor{refusals: map[string]int{}}

	sw := newSwitchForTest(kc, ec2Fake, evictor, testConfig())

	err := sw.Switch(context.Background(), domain.Verdict(""), &domain.Candidate{InstanceType: "m5.large", AZ: "us-east-1a"})
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}

	var got corev1.Node
	if err := kc.Get(context.Background(), client.ObjectKey{Name: "old-node"}, &got); err != nil {
		t.Fatalf("getting old node: %v", err)
	}
	if !got.Spec.Unschedulable {
		t.Errorf("old node should be cordoned")
	}

	if len(evictor.evicted) != 1 || evictor.evicted[0] != "app-pod" {
		t.Errorf("expected only app-pod evicted, got %v", evictor.evicted)
	}

	found := false
	for _, id := range ec2Fake.terminatedIDs {
		if id == "i-oldinstance" {
			found = true
		}
	}
	if !found {
		t.Errorf("old instance i-oldinstance not terminated, got %v", ec2Fake.terminatedIDs)
	}
}

func TestSwitchRollsBackOnScaleOutTimeout(t *testing.T) {
	oldNode := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "old-node"}}
	kc := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(oldNode).Build()

	ec2Fake := &fakeEC2{
		runOut: &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: strPtr("i-newinstance")}}},
	}

	cfg := testConfig()
	cfg.ScaleOutTimeout = 20 * time.Millisecond
	sw := newSwitchForTest(kc, ec2Fake, &fakeEvictor{refusals: map[string]int{}}, cfg)

	err := sw.Switch(context.Background(), domain.Verdict(""), &domain.Candidate{InstanceType: "m5.large", AZ: "us-east-1a"})
	if err == nil {
		t.Fatalf("expected timeout error, got nil")
	}

	found := false
	for _, id := range ec2Fake.terminatedIDs {
		if id == "i-newinstance" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected rollback termination of i-newinstance, got %v", ec2Fake.terminatedIDs)
	}
}

func TestSwitchRejectsNilCandidate(t *testing.T) {
	kc := fake.NewClientBuilder().WithScheme(newScheme()).Build()
	sw := newSwitchForTest(kc, &fakeEC2{}, &fakeEvictor{refusals: map[string]int{}}, testConfig())

	if err := sw.Switch(context.Background(), domain.Verdict(""), nil); err == nil {
		t.Fatalf("expected error for nil candidate")
	}
}

func TestSwitchRetriesEvictionOnPDBRefusal(t *testing.T) {
	oldNode := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "old-node"}}
	newNode := readyNode("new-node", "i-newinstance")
	app := regularPod("app-pod", "old-node")

	kc := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(oldNode, newNode, app).Build()
	ec2Fake := &fakeEC2{runOut: &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: strPtr("i-newinstance")}}}}
	evictor := &fakeEvictor{refusals: map[string]int{"app-pod": 2}}

	cfg := testConfig()
	cfg.DrainTimeout = time.Second
	sw := newSwitchForTest(kc, ec2Fake, evictor, cfg)

	err := sw.Switch(context.Background(), domain.Verdict(""), &domain.Candidate{InstanceType: "m5.large", AZ: "us-east-1a"})
	if err != nil {
		t.Fatalf("Switch() error = %v", err)
	}
	if len(evictor.evicted) != 1 || evictor.evicted[0] != "app-pod" {
		t.Errorf("expected app-pod eventually evicted, got %v", evictor.evicted)
	}
}

func TestSwitchFailsDrainWhenNonDaemonSetPodNeverClears(t *testing.T) {
	oldNode := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "old-node"}}
	newNode := readyNode("new-node", "i-newinstance")
	app := regularPod("app-pod", "old-node")

	kc := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(oldNode, newNode, app).Build()
	ec2Fake := &fakeEC2{runOut: &ec2.RunInstancesOutput{Instances: []ec2types.Instance{{InstanceId: strPtr("i-newinstance")}}}}
	evictor := &fakeEvictor{refusals: map[string]int{"app-pod": 1000}}

	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	cfg.EvictionRetryDelay = 5 * time.Millisecond
	sw := newSwitchForTest(kc, ec2Fake, evictor, cfg)

	err := sw.Switch(context.Background(), domain.Verdict(""), &domain.Candidate{InstanceType: "m5.large", AZ: "us-east-1a"})
	if err == nil {
		t.Fatalf("expected drain timeout error")
	}
}

func strPtr(s string) *string { return &s }
