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

// Package k8sswitch implements the K8s Atomic Switch (§4.7): scale out a
// replacement node, wait for it to join the cluster, cordon and drain the
// old node, then terminate its cloud instance. It satisfies
// pipeline.Switcher so the orchestrator can drive it the same way it drives
// the single-instance switch.
package k8sswitch

import (
	"context"
	"fmt"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/logging"
)

// EC2API is the narrow EC2 surface the switch needs to launch a
// replacement instance and terminate the old one.
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Config holds the timeouts and retry budgets of §4.7.
type Config struct {
	ScaleOutTimeout    time.Duration
	DrainTimeout       time.Duration
	CordonRetries      int
	CordonRetryBackoff time.Duration
	EvictionRetryDelay time.Duration
	TerminateRetries   int
}

// Evictor evicts a single pod, isolated behind an interface so drain logic
// can be exercised without a real eviction subresource.
type Evictor interface {
	Evict(ctx context.Context, pod *corev1.Pod) error
}

// clientEvictor evicts through the real policy/v1 eviction subresource, the
// pattern karpenter's own node terminator uses.
type clientEvictor struct{ client.Client }

func (e clientEvictor) Evict(ctx context.Context, pod *corev1.Pod) error {
	return e.SubResource("eviction").Create(ctx, pod, &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		DeleteOptions: &metav1.DeleteOptions{
			Preconditions: &metav1.Preconditions{UID: &pod.UID},
		},
	})
}

// Switch performs the atomic switch for one old node. NodeName and
// CloudInstanceID identify that node; LaunchTemplate is the pre-populated
// launch request the caller supplies (AMI, subnet, security groups,
// instance profile) — Switch only overrides its instance type and AZ.
type Switch struct {
	K8sClient       client.Client
	EC2             EC2API
	Evictor         Evictor
	NodeName        string
	CloudInstanceID string
	LaunchTemplate  *ec2.RunInstancesInput
	Cfg             Config
}

// NewSwitch builds a Switch for one (old node, launch template) pair,
// evicting pods through the real eviction subresource.
func NewSwitch(k8sClient client.Client, ec2API EC2API, nodeName, cloudInstanceID string, launchTemplate *ec2.RunInstancesInput, cfg Config) *Switch {
	return &Switch{
		K8sClient:       k8sClient,
		EC2:             ec2API,
		Evictor:         clientEvictor{k8sClient},
		NodeName:        nodeName,
		CloudInstanceID: cloudInstanceID,
		LaunchTemplate:  launchTemplate,
		Cfg:             cfg,
	}
}

// Switch runs scale-out, cordon, drain, terminate in sequence, per §4.7.
// It implements pipeline.Switcher.
func (s *Switch) Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error {
	if selected == nil {
		return errorkind.New(errorkind.ExecutionFailure, "k8s switch requested with no selected candidate")
	}
	logger := logging.FromContext(ctx).WithValues("node", s.NodeName, "target-type", selected.InstanceType, "target-az", selected.AZ)

	newInstanceID, err := s.scaleOut(ctx, selected)
	if err != nil {
		return fmt.Errorf("scale-out: %w", err)
	}
	logger.Info("scale-out succeeded", "new-instance-id", newInstanceID)

	if err := s.cordon(ctx); err != nil {
		return fmt.Errorf("cordon: %w", err)
	}
	logger.Info("node cordoned")

	if err := s.drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	logger.Info("node drained")

	if err := s.terminate(ctx); err != nil {
		return fmt.Errorf("terminate: %w", err)
	}
	logger.Info("old instance terminated")
	return nil
}

// scaleOut launches a replacement instance of selected's type/AZ and waits
// for it to register with the cluster and report Ready. On timeout it
// rolls back by terminating the partially-launched instance, if any.
func (s *Switch) scaleOut(ctx context.Context, selected *domain.Candidate) (string, error) {
	input := *s.LaunchTemplate
	input.InstanceType = ec2types.InstanceType(selected.InstanceType)
	if input.Placement == nil {
		input.Placement = &ec2types.Placement{}
	} else {
		p := *input.Placement
		input.Placement = &p
	}
	input.Placement.AvailabilityZone = aws.String(selected.AZ)

	out, err := s.EC2.RunInstances(ctx, &input)
	if err != nil {
		return "", fmt.Errorf("requesting spot instance: %w", err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", errorkind.New(errorkind.ExecutionFailure, "run-instances returned no instance")
	}
	instanceID := *out.Instances[0].InstanceId

	waitCtx, cancel := context.WithTimeout(ctx, s.Cfg.ScaleOutTimeout)
	defer cancel()
	if err := s.waitForReady(waitCtx, instanceID); err != nil {
		s.rollback(ctx, instanceID)
		return "", err
	}
	return instanceID, nil
}

// waitForReady polls for a Node whose provider ID carries instanceID and
// whose Ready condition is True, until ctx is done.
func (s *Switch) waitForReady(ctx context.Context, instanceID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		node, err := s.findNodeByInstance(ctx, instanceID)
		if err == nil && nodeIsReady(node) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errorkind.New(errorkind.ExecutionFailure, "timed out waiting for instance %s to register and become ready", instanceID)
		case <-ticker.C:
		}
	}
}

func (s *Switch) findNodeByInstance(ctx context.Context, instanceID string) (*corev1.Node, error) {
	var nodes corev1.NodeList
	if err := s.K8sClient.List(ctx, &nodes); err != nil {
		return nil, err
	}
	for i := range nodes.Items {
		n := &nodes.Items[i]
		if providerIDHasInstance(n.Spec.ProviderID, instanceID) {
			return n, nil
		}
	}
	return nil, errorkind.New(errorkind.NotFound, "no node found for instance %s", instanceID)
}

// providerIDHasInstance reports whether providerID (e.g.
// "aws:///us-east-1a/i-0123") names instanceID, without assuming a fixed
// prefix scheme beyond "ends with the instance id".
func providerIDHasInstance(providerID, instanceID string) bool {
	if providerID == "" {
		return false
	}
	return len(providerID) >= len(instanceID) && providerID[len(providerID)-len(instanceID):] == instanceID
}

func nodeIsReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// rollback best-effort terminates a partially-launched instance after a
// failed scale-out; its own failure is only logged, never propagated,
// since the caller already has a scale-out error to report.
func (s *Switch) rollback(ctx context.Context, instanceID string) {
	logger := logging.FromContext(ctx)
	rollbackCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.EC2.TerminateInstances(rollbackCtx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		logger.Error(err, "rolling back partially-launched instance", "instance-id", instanceID)
	}
}

// cordon marks the old node unschedulable, retrying on conflict per §4.7
// ("must succeed; retry 3x with 2s backoff").
func (s *Switch) cordon(ctx context.Context) error {
	return retry.Do(
		func() error {
			var node corev1.Node
			if err := s.K8sClient.Get(ctx, client.ObjectKey{Name: s.NodeName}, &node); err != nil {
				return err
			}
			if node.Spec.Unschedulable {
				return nil
			}
			patch := client.MergeFrom(node.DeepCopy())
			node.Spec.Unschedulable = true
			return s.K8sClient.Patch(ctx, &node, patch)
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.Cfg.CordonRetries)),
		retry.Delay(s.Cfg.CordonRetryBackoff),
		retry.DelayType(retry.FixedDelay),
	)
}

// drain enumerates pods on the old node, skips DaemonSet-owned and mirror
// pods, and evicts the rest one at a time, retrying on a disruption-budget
// refusal until the overall drain timeout elapses (§4.7).
func (s *Switch) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, s.Cfg.DrainTimeout)
	defer cancel()

	var pods corev1.PodList
	if err := s.K8sClient.List(ctx, &pods); err != nil {
		return fmt.Errorf("listing pods: %w", err)
	}

	var remaining []corev1.Pod
	for _, p := range pods.Items {
		if p.Spec.NodeName == s.NodeName && isDrainable(&p) {
			remaining = append(remaining, p)
		}
	}

	for len(remaining) > 0 {
		pod := remaining[0]
		err := s.Evictor.Evict(drainCtx, &pod)
		switch {
		case err == nil:
			remaining = remaining[1:]
		case apierrors.IsTooManyRequests(err):
			select {
			case <-drainCtx.Done():
				return s.failIfNonDaemonSetRemains(remaining)
			case <-time.After(s.Cfg.EvictionRetryDelay):
			}
		case apierrors.IsNotFound(err):
			remaining = remaining[1:]
		default:
			return fmt.Errorf("evicting pod %s/%s: %w", pod.Namespace, pod.Name, err)
		}
		if drainCtx.Err() != nil {
			return s.failIfNonDaemonSetRemains(remaining)
		}
	}
	return nil
}

func (s *Switch) failIfNonDaemonSetRemains(remaining []corev1.Pod) error {
	for _, p := range remaining {
		if !isDaemonSetOrMirror(&p) {
			return errorkind.New(errorkind.ExecutionFailure,
				"drain timed out with non-DaemonSet pod %s/%s still scheduled", p.Namespace, p.Name)
		}
	}
	return nil
}

// isDrainable reports whether a pod should be evicted at all: not already
// a DaemonSet/mirror pod that drain skips outright.
func isDrainable(pod *corev1.Pod) bool {
	return !isDaemonSetOrMirror(pod)
}

// isDaemonSetOrMirror reports whether pod is DaemonSet-owned or a static
// mirror pod, both of which drain must leave alone (§4.7).
func isDaemonSetOrMirror(pod *corev1.Pod) bool {
	if _, ok := pod.Annotations[corev1.MirrorPodAnnotationKey]; ok {
		return true
	}
	for _, ref := range pod.OwnerReferences {
		if ref.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}

// terminate deletes the old cloud instance, retrying on transient cloud
// errors per §4.7.
func (s *Switch) terminate(ctx context.Context) error {
	return retry.Do(
		func() error {
			_, err := s.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{s.CloudInstanceID}})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.Cfg.TerminateRetries)),
		retry.Delay(time.Second),
	)
}
