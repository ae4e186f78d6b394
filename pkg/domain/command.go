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

package domain

import (
	"fmt"
	"time"
)

// CommandKind is the operation a Command asks an Agent to perform (§3.4).
type CommandKind string

const (
	CommandSwitch         CommandKind = "switch"
	CommandShutdown       CommandKind = "shutdown"
	CommandApplyConfig    CommandKind = "apply-config"
	CommandCreateReplica  CommandKind = "create-replica"
	CommandPromoteReplica CommandKind = "promote-replica"
)

// CommandStatus is the lifecycle state of a Command (§3.5).
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandPickedUp  CommandStatus = "picked-up"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandExpired   CommandStatus = "expired"
)

// allowedCommandTransitions enumerates the legal (from, to) pairs of the
// Command state machine (§3.5 / §8 invariant 1): "state transitions are a
// subset of the declared state machine."
var allowedCommandTransitions = map[CommandStatus]map[CommandStatus]bool{
	CommandPending: {
		CommandPickedUp: true,
		CommandExpired:  true,
	},
	CommandPickedUp: {
		CommandCompleted: true,
		CommandFailed:    true,
	},
}

// Command is a unit of work queued for an Agent to pick up and execute.
type Command struct {
	ID          string
	AgentID     string
	Kind        CommandKind
	Payload     map[string]any
	Status      CommandStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	PickedUpAt  *time.Time
	CompletedAt *time.Time
	Result      string
	Error       string
}

// CanTransition reports whether moving from c.Status to next is legal.
// Repeating the terminal status the command is already in is always
// permitted as a no-op, satisfying the idempotent-completion invariant
// (§8 round-trip: "repeated executed calls after COMPLETED/FAILED return
// 200 with no state change").
func (c Command) CanTransition(next CommandStatus) bool {
	if next == c.Status {
		return true
	}
	return allowedCommandTransitions[c.Status][next]
}

// Transition validates and applies a state change, returning an error that
// names the illegal pair when next is not reachable from c.Status.
func (c *Command) Transition(next CommandStatus) error {
	if !c.CanTransition(next) {
		return fmt.Errorf("illegal command transition %s -> %s", c.Status, next)
	}
	c.Status = next
	return nil
}

// Expired reports whether the command has passed its deadline without being
// picked up.
func (c Command) Expired(now time.Time) bool {
	return c.Status == CommandPending && !now.Before(c.ExpiresAt)
}
