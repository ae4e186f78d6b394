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

import "time"

// RiskEventKind is the reason a pool was reported as poisoned (§3.3).
type RiskEventKind string

const (
	RiskEventRebalanceNotice  RiskEventKind = "rebalance-notice"
	RiskEventTerminationNotice RiskEventKind = "termination-notice"
)

// PoisonTTL is the default lifetime of a RiskEvent (§4.4 / §6.5).
const PoisonTTL = 15 * 24 * time.Hour

// RiskEvent is an append-only record of a production interruption signal
// observed against a pool. Rows are never updated after insertion.
type RiskEvent struct {
	ID           string
	PoolID       string
	Kind         RiskEventKind
	ReportedAt   time.Time
	ExpiresAt    time.Time
	SourceTenant string
	Metadata     map[string]string
}

// NewRiskEvent builds a RiskEvent with ExpiresAt = reportedAt + PoisonTTL,
// matching the invariant in §8.2.
func NewRiskEvent(id, poolID string, kind RiskEventKind, reportedAt time.Time, sourceTenant string, metadata map[string]string) RiskEvent {
	return RiskEvent{
		ID:           id,
		PoolID:       poolID,
		Kind:         kind,
		ReportedAt:   reportedAt,
		ExpiresAt:    reportedAt.Add(PoisonTTL),
		SourceTenant: sourceTenant,
		Metadata:     metadata,
	}
}

// Active reports whether the event has not yet expired as of now. An event
// whose ExpiresAt equals now is considered expired (§8 boundary behavior:
// "risk event at expires-at == now -> considered expired (safe)"), so this
// uses a strict greater-than.
func (e RiskEvent) Active(now time.Time) bool {
	return e.ExpiresAt.After(now)
}
