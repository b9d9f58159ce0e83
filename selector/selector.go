// Package selector picks a provider for a service call by combining
// health, cost, quota, and free-tier signals into a single weighted
// score. Selection is deterministic: highest total score wins, ties
// broken by provider name ascending, so repeated calls under the same
// conditions bind the same provider.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/cost"
	"github.com/scribeflow/scribeflow/health"
	"github.com/scribeflow/scribeflow/quota"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/resilience"
)

var (
	ErrNoProviderAvailable  = errors.New("selector: no provider available")
	ErrPreferredUnavailable = errors.New("selector: preferred provider unavailable")
	ErrModelIDRequired      = errors.New("selector: model_id required for this provider")
)

// Strategy names a fixed set of scoring-weight profiles.
type Strategy string

const (
	StrategyBalanced         Strategy = "balanced"
	StrategyHealthFirst      Strategy = "health_first"
	StrategyCostFirst        Strategy = "cost_first"
	StrategyPerformanceFirst Strategy = "performance_first"
)

// Weights sums to 1.0 across the four ProviderScore dimensions.
type Weights struct {
	Health    float64
	Cost      float64
	Quota     float64
	FreeQuota float64
}

// strategyWeights holds the fixed per-strategy weight profiles; balanced
// is the default, leaning on unused free-tier allocation first.
var strategyWeights = map[Strategy]Weights{
	StrategyBalanced:         {FreeQuota: 0.40, Health: 0.25, Cost: 0.20, Quota: 0.15},
	StrategyHealthFirst:      {Health: 0.60, Cost: 0.15, Quota: 0.15, FreeQuota: 0.10},
	StrategyCostFirst:        {Health: 0.20, Cost: 0.50, Quota: 0.20, FreeQuota: 0.10},
	StrategyPerformanceFirst: {Health: 0.50, Cost: 0.10, Quota: 0.30, FreeQuota: 0.10},
}

// WeightsFor returns the weight profile for a strategy, defaulting to
// balanced for an empty or unrecognized value.
func WeightsFor(s Strategy) Weights {
	if w, ok := strategyWeights[s]; ok {
		return w
	}
	return strategyWeights[StrategyBalanced]
}

// Request describes one selection call.
type Request struct {
	ServiceType       registry.ServiceType
	Variant           string // only meaningful for ServiceASR
	Owner             string // quota owner; defaults to database.GlobalOwner by caller
	PreferredProvider string
	ModelID           string
	Strategy          Strategy

	// Request-size hints for the per-candidate cost estimate. Zero means
	// unknown; candidates then rank by CostPerUnit alone.
	DurationSecondsHint float64 // ASR: expected seconds of audio
	TokenCountHint      int     // LLM: expected prompt+completion tokens
}

// Score is the transient per-candidate breakdown behind a Decision.
type Score struct {
	Health    float64
	Cost      float64
	Quota     float64
	FreeQuota float64
	Total     float64
}

// Decision is the outcome of a successful Select call.
type Decision struct {
	Provider string
	ModelID  string
	Metadata registry.Metadata
	Score    Score
}

// Selector wires together the components that inform provider choice.
type Selector struct {
	registry *registry.Registry
	health   *health.Monitor
	breakers *resilience.Registry
	quota    *quota.Manager
	cost     *cost.Tracker
	logger   *zap.Logger
}

func New(reg *registry.Registry, h *health.Monitor, breakers *resilience.Registry, q *quota.Manager, c *cost.Tracker, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{registry: reg, health: h, breakers: breakers, quota: q, cost: c, logger: logger.With(zap.String("component", "selector"))}
}

// Select returns the winning provider for req, or ErrNoProviderAvailable /
// ErrPreferredUnavailable / ErrModelIDRequired.
func (s *Selector) Select(ctx context.Context, req Request) (*Decision, error) {
	if req.PreferredProvider != "" {
		return s.selectPreferred(ctx, req)
	}

	candidates, err := s.eligibleCandidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}

	weights := WeightsFor(req.Strategy)

	// The cost dimension is relative to this candidate set: each
	// candidate's estimated cost for the current request, normalized
	// against the most expensive candidate.
	metas := make([]registry.Metadata, len(candidates))
	estimates := make([]float64, len(candidates))
	maxEstimate := 0.0
	for i, name := range candidates {
		metas[i], _ = s.registry.Metadata(req.ServiceType, name)
		estimates[i] = estimatedRequestCost(metas[i], req)
		if estimates[i] > maxEstimate {
			maxEstimate = estimates[i]
		}
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for i, name := range candidates {
		sc := s.score(ctx, req.ServiceType, name, req.Variant, req.Owner, weights, relativeCostScore(estimates[i], maxEstimate))
		scored = append(scored, scoredCandidate{name: name, meta: metas[i], score: sc})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score.Total != scored[j].score.Total {
			return scored[i].score.Total > scored[j].score.Total
		}
		return scored[i].name < scored[j].name
	})

	winner := scored[0]
	modelID, err := s.resolveModelID(req, winner.meta)
	if err != nil {
		return nil, err
	}
	if s.cost != nil {
		if spent, err := s.cost.EstimateCurrentCost(ctx, winner.name); err == nil {
			s.logger.Debug("provider selected",
				zap.String("provider", winner.name),
				zap.Float64("score", winner.score.Total),
				zap.Float64("spent_today", spent))
		}
	}
	return &Decision{Provider: winner.name, ModelID: modelID, Metadata: winner.meta, Score: winner.score}, nil
}

// estimatedRequestCost prices the current request against one candidate's
// declared per-unit rate: seconds of audio for ASR, thousands of tokens
// for LLM. An absent hint falls back to one unit so candidates still rank
// by their rates.
func estimatedRequestCost(meta registry.Metadata, req Request) float64 {
	if meta.CostPerUnit <= 0 {
		return 0
	}
	units := 1.0
	switch req.ServiceType {
	case registry.ServiceASR:
		if req.DurationSecondsHint > 0 {
			units = req.DurationSecondsHint
		}
	case registry.ServiceLLM:
		if req.TokenCountHint > 0 {
			units = float64(req.TokenCountHint) / 1000
		}
	}
	return meta.CostPerUnit * units
}

// relativeCostScore maps an estimate onto [0,1] against the candidate
// set's maximum: 1 - estimate/max, floored at 0. When every candidate is
// free the dimension is neutral.
func relativeCostScore(estimate, maxEstimate float64) float64 {
	if maxEstimate <= 0 {
		return 1.0
	}
	score := 1.0 - estimate/maxEstimate
	if score < 0 {
		return 0
	}
	return score
}

type scoredCandidate struct {
	name  string
	meta  registry.Metadata
	score Score
}

func (s *Selector) selectPreferred(ctx context.Context, req Request) (*Decision, error) {
	meta, ok := s.registry.Metadata(req.ServiceType, req.PreferredProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %q not registered", ErrPreferredUnavailable, req.PreferredProvider)
	}
	ok = false
	for _, name := range s.registry.Discover(req.ServiceType) {
		if name == req.PreferredProvider {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q missing credentials", ErrPreferredUnavailable, req.PreferredProvider)
	}
	if s.breakers != nil && s.breakers.State(string(req.ServiceType), req.PreferredProvider) == resilience.StateOpen {
		return nil, fmt.Errorf("%w: %q circuit open", ErrPreferredUnavailable, req.PreferredProvider)
	}
	if req.ServiceType == registry.ServiceASR && s.quota != nil {
		available, err := s.quota.CheckAvailable(ctx, effectiveOwner(req.Owner), req.PreferredProvider, req.Variant)
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, fmt.Errorf("%w: %q quota exhausted", ErrPreferredUnavailable, req.PreferredProvider)
		}
	}

	modelID, err := s.resolveModelID(req, meta)
	if err != nil {
		return nil, err
	}
	weights := WeightsFor(req.Strategy)
	// A preferred provider bypasses scoring; with a candidate set of one,
	// the relative cost dimension is neutral.
	sc := s.score(ctx, req.ServiceType, req.PreferredProvider, req.Variant, req.Owner, weights, 1.0)
	return &Decision{Provider: req.PreferredProvider, ModelID: modelID, Metadata: meta, Score: sc}, nil
}

// eligibleCandidates returns credentialed providers whose breaker is not
// Open, and — for ASR — whose quota is available for the requested variant.
func (s *Selector) eligibleCandidates(ctx context.Context, req Request) ([]string, error) {
	names := s.registry.Discover(req.ServiceType)
	out := make([]string, 0, len(names))
	for _, name := range names {
		if s.breakers != nil && s.breakers.State(string(req.ServiceType), name) == resilience.StateOpen {
			continue
		}
		if req.ServiceType == registry.ServiceASR && s.quota != nil {
			available, err := s.quota.CheckAvailable(ctx, effectiveOwner(req.Owner), name, req.Variant)
			if err != nil {
				return nil, err
			}
			if !available {
				continue
			}
		}
		out = append(out, name)
	}
	return out, nil
}

// score computes the four ProviderScore dimensions and their weighted
// total. costScore arrives precomputed because it is relative to the whole
// candidate set, not derivable from one candidate alone.
func (s *Selector) score(ctx context.Context, serviceType registry.ServiceType, provider, variant, owner string, w Weights, costScore float64) Score {
	healthScore := 1.0
	if s.health != nil {
		healthScore = s.health.Get(string(serviceType), provider)
	}

	quotaScore := 1.0
	if serviceType == registry.ServiceASR && s.quota != nil {
		if entries, err := s.quota.QueryEffective(ctx, effectiveOwner(owner), provider, variant); err == nil && len(entries) > 0 {
			min := 1.0
			for _, e := range entries {
				if e.QuotaSeconds <= 0 {
					continue
				}
				remaining := 1.0 - e.UsedSeconds/e.QuotaSeconds
				if remaining < min {
					min = remaining
				}
			}
			quotaScore = min
		}
	}

	freeQuotaScore := 0.0
	if meta, ok := s.registry.Metadata(serviceType, provider); ok && meta.CostPerUnit <= 0 {
		freeQuotaScore = 1.0
	}

	total := w.Health*healthScore + w.Cost*costScore + w.Quota*quotaScore + w.FreeQuota*freeQuotaScore
	return Score{Health: healthScore, Cost: costScore, Quota: quotaScore, FreeQuota: freeQuotaScore, Total: total}
}

// resolveModelID applies the multi-model LLM pass-through rule: an explicit
// model_id wins, otherwise the registration's default, otherwise — for LLM
// providers only — ErrModelIDRequired.
func (s *Selector) resolveModelID(req Request, meta registry.Metadata) (string, error) {
	if req.ModelID != "" {
		return req.ModelID, nil
	}
	if meta.DefaultModel != "" {
		return meta.DefaultModel, nil
	}
	if req.ServiceType == registry.ServiceLLM {
		return "", fmt.Errorf("%w: provider %q", ErrModelIDRequired, meta.Name)
	}
	return "", nil
}

func effectiveOwner(owner string) string {
	if owner == "" {
		return "global"
	}
	return owner
}
