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

// Package risk implements the Global Risk Tracker (§4.4): an append-only
// log of production interruption events, gated to PROD tenants, with a
// front cache so the pipeline's global-risk filter stage never waits on the
// database for the common "pool is safe" case.
package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/logging"
)

// frontCacheTTL bounds how long a pool may be reported safe after it was
// last checked against the store; it trades a small staleness window for
// removing the DB from the pipeline's hot path.
const frontCacheTTL = 30 * time.Second

// Store is the persistence contract the Global Risk Tracker is layered
// over. Concrete implementations live in pkg/store.
type Store interface {
	InsertRiskEvent(ctx context.Context, event domain.RiskEvent) error
	ActiveRiskEvents(ctx context.Context, poolID string, now time.Time) ([]domain.RiskEvent, error)
	DeleteExpiredRiskEvents(ctx context.Context, now time.Time) (int64, error)
}

// Tracker implements the register/isSafe/cleanup operations of §4.4.
type Tracker struct {
	store Store

	safeCache *gocache.Cache // pool-id -> struct{}{}: presence means "observed safe recently"
}

// NewTracker builds a Tracker over store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:     store,
		safeCache: gocache.New(frontCacheTTL, frontCacheTTL),
	}
}

// RegisterEvent appends a RiskEvent. Per §4.4, events are registered only
// when the signaling account's environment is PROD; LAB interruptions are
// silently dropped, never stored.
func (t *Tracker) RegisterEvent(ctx context.Context, poolID string, kind domain.RiskEventKind, env domain.Environment, sourceTenant string, metadata map[string]string) error {
	if env != domain.EnvironmentProd {
		return nil
	}

	event := domain.NewRiskEvent(uuid.NewString(), poolID, kind, time.Now(), sourceTenant, metadata)
	if err := t.store.InsertRiskEvent(ctx, event); err != nil {
		return errorkind.Wrap(errorkind.TransientUpstream, err, "pool-id", poolID)
	}
	t.safeCache.Delete(poolID)
	return nil
}

// RegisterEventAsync fires RegisterEvent in the background and only logs a
// failure, per §4.4: "all writes are fire-and-forget from the signaling
// path (must not block the Agent)".
func (t *Tracker) RegisterEventAsync(ctx context.Context, poolID string, kind domain.RiskEventKind, env domain.Environment, sourceTenant string, metadata map[string]string) {
	logger := logging.FromContext(ctx)
	go func() {
		if err := t.RegisterEvent(context.Background(), poolID, kind, env, sourceTenant, metadata); err != nil {
			logger.Error(err, "failed to register risk event", "pool-id", poolID, "kind", kind)
		}
	}()
}

// IsPoolSafe reports whether pool has zero active (non-expired) events as
// of now, per §3.3 / §8 invariant 3.
func (t *Tracker) IsPoolSafe(ctx context.Context, poolID string, now time.Time) (bool, []domain.RiskEvent, error) {
	if _, ok := t.safeCache.Get(poolID); ok {
		return true, nil, nil
	}

	events, err := t.store.ActiveRiskEvents(ctx, poolID, now)
	if err != nil {
		return false, nil, errorkind.Wrap(errorkind.TransientUpstream, err, "pool-id", poolID)
	}
	if len(events) == 0 {
		t.safeCache.SetDefault(poolID, struct{}{})
		return true, nil, nil
	}
	return false, events, nil
}

// ActiveEventCount reports how many active (non-expired) events a pool
// currently has, for operator visibility into quarantine pressure on a
// pool (§4.4 supplement). Unlike IsPoolSafe it always reads through to the
// store: operator-facing counts should reflect the live count, not the
// front cache's "safe" presence check.
func (t *Tracker) ActiveEventCount(ctx context.Context, poolID string) (int, error) {
	events, err := t.store.ActiveRiskEvents(ctx, poolID, time.Now())
	if err != nil {
		return 0, errorkind.Wrap(errorkind.TransientUpstream, err, "pool-id", poolID)
	}
	return len(events), nil
}

// Cleanup deletes rows with expires-at <= now. Idempotent and safe to run
// concurrently with other Cleanup calls or reads (§4.4).
func (t *Tracker) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	n, err := t.store.DeleteExpiredRiskEvents(ctx, now)
	if err != nil {
		return 0, errorkind.Wrap(errorkind.TransientUpstream, err)
	}
	return n, nil
}
