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

// Package riskmodel implements providers.RiskModel with a stateless
// logistic-regression scorer over a fixed feature vector. It is an
// inference-only adapter (§1): model training happens out of band and is
// out of scope here.
package riskmodel

import (
	"context"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/errorkind"
	"github.com/herdguard/herdguard/pkg/providers"
)

// featureVersion identifies the feature schema baked into weights below.
// Bump this whenever the feature vector or its ordering changes so callers
// can detect a mismatch between the pipeline's candidate shape and the
// model's training-time assumptions.
const featureVersion = "risk-model-v1"

// weights are applied, in order, to:
// [historicInterruptRate, discountDepth, 1 (bias)].
var weights = [3]float64{2.1, 1.4, -0.9}

// Model implements providers.RiskModel.
type Model struct{}

// New builds a Model.
func New() *Model { return &Model{} }

// FeatureVersion implements providers.RiskModel.
func (m *Model) FeatureVersion() string { return featureVersion }

// Predict implements providers.RiskModel. Entries whose features are
// malformed (NaN/Inf) or whose candidate has no interrupt rate enrichment
// yet are omitted from the result rather than scored; the pipeline's
// risk-model stage documents a 0.5 fallback for missing entries.
func (m *Model) Predict(ctx context.Context, candidates []domain.Candidate) (map[string]float64, error) {
	result := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if !c.IsValid || !c.HasInterruptRate {
			continue
		}
		pool, err := c.Pool()
		if err != nil {
			continue
		}
		features := [3]float64{c.HistoricInterruptRate, c.DiscountDepth, 1}
		if hasInvalidFeature(features) {
			continue
		}
		result[pool.ID()] = sigmoid(dot(weights, features))
	}
	return result, nil
}

func hasInvalidFeature(features [3]float64) bool {
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

func dot(a, b [3]float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// activeLookupTTL bounds how long Registry.Active's resolved pointer is
// cached, the same go-cache front-cache pattern pkg/risk.Tracker and
// pkg/providers/price use to keep a hot read off a lock.
const activeLookupTTL = 1 * time.Minute

// activeCacheKey is the single key Registry's cache ever holds; Registry
// tracks one active pointer, not a set, so there is nothing to key on.
const activeCacheKey = "active"

// Registry tracks a small set of named, deployed model versions and which
// one is currently active, so swapping the live inference model is a
// pointer update rather than a process restart. It is inference-endpoint
// bookkeeping only: training and promotion of a new version happen out of
// band (§1) and are out of scope here.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]providers.RiskModel
	activeID string

	cache *gocache.Cache
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]providers.RiskModel),
		cache:  gocache.New(activeLookupTTL, activeLookupTTL),
	}
}

// Register adds or replaces the model version stored under version. If the
// Registry has no active version yet, version also becomes the active one.
func (r *Registry) Register(version string, model providers.RiskModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[version] = model
	if r.activeID == "" {
		r.activeID = version
	}
	r.cache.Delete(activeCacheKey)
}

// SetActive marks version as the active model. Returns a
// errorkind.NotFound error if version hasn't been Registered.
func (r *Registry) SetActive(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[version]; !ok {
		return errorkind.New(errorkind.NotFound, "model version %q is not registered", version)
	}
	r.activeID = version
	r.cache.Delete(activeCacheKey)
	return nil
}

// Active returns the currently active model version's id and its
// providers.RiskModel, or false if no model has been registered yet.
func (r *Registry) Active() (string, providers.RiskModel, bool) {
	if cached, ok := r.cache.Get(activeCacheKey); ok {
		entry := cached.(activeEntry)
		return entry.version, entry.model, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return "", nil, false
	}
	model := r.models[r.activeID]
	r.cache.SetDefault(activeCacheKey, activeEntry{version: r.activeID, model: model})
	return r.activeID, model, true
}

// Predict implements providers.RiskModel by delegating to the currently
// active model. It returns an errorkind.ExecutionFailure error if no model
// has been registered, since a Registry with nothing active is a
// deployment mistake, not a transient condition callers should retry
// through.
func (r *Registry) Predict(ctx context.Context, candidates []domain.Candidate) (map[string]float64, error) {
	_, model, ok := r.Active()
	if !ok {
		return nil, errorkind.New(errorkind.ExecutionFailure, "no active risk model registered")
	}
	return model.Predict(ctx, candidates)
}

// FeatureVersion implements providers.RiskModel by reporting the currently
// active model's feature version, or "" if none is active.
func (r *Registry) FeatureVersion() string {
	_, model, ok := r.Active()
	if !ok {
		return ""
	}
	return model.FeatureVersion()
}

type activeEntry struct {
	version string
	model   providers.RiskModel
}

// ValidateShape checks that a feature vector's length matches what this
// model's weights expect, returning an errorkind.ValidationError otherwise.
// Exported so callers wiring a different model implementation behind the
// same interface can reuse the shape check.
func ValidateShape(features []float64) error {
	if len(features) != len(weights) {
		return errorkind.New(errorkind.Validation, "expected %d features, got %d", len(weights), len(features))
	}
	return nil
}
