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

package agent

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
)

// EC2API is the subset of the EC2 client InstanceSwitcher calls, narrowed
// for testability following the pattern of pkg/providers/price.EC2API.
type EC2API interface {
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// InstanceSwitcher implements pipeline.Switcher for mode=test (§4.3.11): it
// stops the running instance, flips its type, and restarts it in place. A
// cross-AZ move is not possible by modifying an existing instance, so a
// change in target AZ is reported as an error rather than silently ignored.
type InstanceSwitcher struct {
	EC2API     EC2API
	InstanceID string
	CurrentAZ  string
}

// NewInstanceSwitcher builds an InstanceSwitcher for the agent's own
// instance, identified by instanceID and its current availability zone.
func NewInstanceSwitcher(ec2API EC2API, instanceID, currentAZ string) *InstanceSwitcher {
	return &InstanceSwitcher{EC2API: ec2API, InstanceID: instanceID, CurrentAZ: currentAZ}
}

// Switch implements pipeline.Switcher.
func (s *InstanceSwitcher) Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error {
	if selected == nil {
		return errorkind.New(errorkind.ExecutionFailure, "switch requested with no selected candidate")
	}
	if selected.AZ != "" && selected.AZ != s.CurrentAZ {
		return errorkind.New(errorkind.ExecutionFailure,
			"cannot move instance %s from az %s to %s without relaunch", s.InstanceID, s.CurrentAZ, selected.AZ)
	}

	if _, err := s.EC2API.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{s.InstanceID},
	}); err != nil {
		return fmt.Errorf("stopping instance %s: %w", s.InstanceID, err)
	}

	if _, err := s.EC2API.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:   aws.String(s.InstanceID),
		InstanceType: &ec2types.AttributeValue{Value: aws.String(selected.InstanceType)},
	}); err != nil {
		return fmt.Errorf("modifying instance %s type to %s: %w", s.InstanceID, selected.InstanceType, err)
	}

	if _, err := s.EC2API.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{s.InstanceID},
	}); err != nil {
		return fmt.Errorf("restarting instance %s: %w", s.InstanceID, err)
	}
	return nil
}
