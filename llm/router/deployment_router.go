package router

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/litellm-go/litellm/types"
	"go.uber.org/zap"
)

var (
	// ErrUnknownModel is returned when neither a deployment ID nor a
	// model group name resolves to anything registered.
	ErrUnknownModel = errors.New("model id or group not found")
	// ErrAllDeploymentsCoolingDown is returned when every deployment
	// in the requested group is currently in cooldown.
	ErrAllDeploymentsCoolingDown = errors.New("all deployments in cooldown")
)

// Strategy selects one deployment from a filtered candidate list.
type Strategy string

const (
	StrategySimpleShuffle Strategy = "simple-shuffle"
	StrategyLeastBusy     Strategy = "least-busy"
	StrategyUsageBased    Strategy = "usage-based"
	StrategyLatencyBased  Strategy = "latency-based"
)

// SelectRequest carries the model a caller asked for plus the
// capabilities the chosen deployment must support.
type SelectRequest struct {
	// Model is either a deployment ID (exact match, bypasses group
	// resolution and strategy selection entirely) or a model group
	// name to route across.
	Model string

	Tags            []string
	RequireTools    bool
	RequireVision   bool
	RequireStream   bool
	ExcludeIDs      map[string]bool
}

// DeploymentRouter resolves a model group (or pinned deployment ID) to a
// concrete *types.Deployment, applying capability/tag filtering, a
// selection strategy, and a cooldown/fallback state machine, mirroring
// WeightedRouter's candidate-map shape but operating on types.Deployment
// instead of the schema-bound ModelCandidate.
type DeploymentRouter struct {
	mu sync.RWMutex

	// byID indexes every known deployment by its stable ID — this is
	// what a pinned Model string (exact deployment ID) resolves
	// against first, before falling back to group resolution.
	byID map[string]*types.Deployment

	// byGroup indexes deployments by model group name.
	byGroup map[string][]*types.Deployment

	// defaults holds one template deployment per group, shallow-copied
	// via Deployment.Clone() to seed a new deployment's fields that
	// weren't explicitly configured.
	defaults map[string]*types.Deployment

	strategy     Strategy
	cooldownTime time.Duration
	rngMu        sync.Mutex
	rng          *rand.Rand
	logger       *zap.Logger
}

// NewDeploymentRouter creates a router using strategy for group
// resolution, with cooldownTime controlling how long a deployment that
// trips the failure threshold is excluded from selection.
func NewDeploymentRouter(strategy Strategy, cooldownTime time.Duration, logger *zap.Logger) *DeploymentRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldownTime <= 0 {
		cooldownTime = 60 * time.Second
	}
	return &DeploymentRouter{
		byID:         make(map[string]*types.Deployment),
		byGroup:      make(map[string][]*types.Deployment),
		defaults:     make(map[string]*types.Deployment),
		strategy:     strategy,
		cooldownTime: cooldownTime,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:       logger,
	}
}

// AddDeployment registers d, applying the group's default template (if
// one exists) to fields d left zero-valued.
func (r *DeploymentRouter) AddDeployment(d *types.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.defaults[d.ModelGroup]; ok {
		d = mergeWithTemplate(tmpl, d)
	}
	if d.Health == nil {
		d.Health = &types.DeploymentHealth{UpdatedAt: time.Now()}
	}
	r.byID[d.ID] = d
	r.byGroup[d.ModelGroup] = append(r.byGroup[d.ModelGroup], d)
}

// SetDefault registers tmpl as the shallow-copy template for its
// ModelGroup: deployments added to the group afterward inherit
// any field left unset.
func (r *DeploymentRouter) SetDefault(tmpl *types.Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[tmpl.ModelGroup] = tmpl.Clone()
}

// mergeWithTemplate fills zero-valued fields of d from tmpl, returning a
// new deployment so the template itself is never mutated.
func mergeWithTemplate(tmpl, d *types.Deployment) *types.Deployment {
	merged := tmpl.Clone()
	merged.ID = d.ID
	merged.Model = firstNonEmpty(d.Model, merged.Model)
	merged.Provider = firstNonEmpty(d.Provider, merged.Provider)
	merged.APIBase = firstNonEmpty(d.APIBase, merged.APIBase)
	merged.ModelGroup = d.ModelGroup
	if len(d.Tags) > 0 {
		merged.Tags = d.Tags
	}
	if d.Weight > 0 {
		merged.Weight = d.Weight
	}
	if d.RPM > 0 {
		merged.RPM = d.RPM
	}
	if d.TPM > 0 {
		merged.TPM = d.TPM
	}
	if d.MaxCostPerReq > 0 {
		merged.MaxCostPerReq = d.MaxCostPerReq
	}
	merged.SupportsTools = d.SupportsTools || merged.SupportsTools
	merged.SupportsVision = d.SupportsVision || merged.SupportsVision
	merged.SupportsStream = d.SupportsStream || merged.SupportsStream
	if d.Health != nil {
		merged.Health = d.Health
	}
	if d.Params != nil {
		if merged.Params == nil {
			merged.Params = map[string]any{}
		}
		for k, v := range d.Params {
			merged.Params[k] = v
		}
	}
	return merged
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Select resolves req.Model to one *types.Deployment.
//
// If req.Model exactly matches a registered deployment ID, that
// deployment is pinned and returned directly — group resolution,
// capability filtering, and the selection strategy are all bypassed,
// since the caller asked for this specific backend.
//
// Otherwise req.Model is treated as a model group: candidates are
// filtered by cooldown state, ExcludeIDs, tags, and required
// capabilities, then one is chosen via the router's configured
// Strategy.
func (r *DeploymentRouter) Select(ctx context.Context, req *SelectRequest) (*types.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.byID[req.Model]; ok {
		return d, nil
	}

	group, ok := r.byGroup[req.Model]
	if !ok || len(group) == 0 {
		return nil, ErrUnknownModel
	}

	now := time.Now()
	candidates := make([]*types.Deployment, 0, len(group))
	for _, d := range group {
		if req.ExcludeIDs != nil && req.ExcludeIDs[d.ID] {
			continue
		}
		if d.Health != nil && d.Health.InCooldown(now) {
			continue
		}
		if req.RequireTools && !d.SupportsTools {
			continue
		}
		if req.RequireVision && !d.SupportsVision {
			continue
		}
		if req.RequireStream && !d.SupportsStream {
			continue
		}
		if len(req.Tags) > 0 && !matchAnyTag(d.Tags, req.Tags) {
			continue
		}
		candidates = append(candidates, d)
	}

	if len(candidates) == 0 {
		// Every deployment matched but is cooling down: surface a
		// specific error so the pipeline can decide whether to fall
		// back to a different model group rather than failing the
		// request outright.
		if len(group) > 0 {
			return nil, ErrAllDeploymentsCoolingDown
		}
		return nil, ErrNoAvailableModel
	}

	selected := r.selectByStrategy(candidates)
	return selected, nil
}

func matchAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func (r *DeploymentRouter) selectByStrategy(candidates []*types.Deployment) *types.Deployment {
	switch r.strategy {
	case StrategyLeastBusy:
		return leastBusy(candidates)
	case StrategyUsageBased:
		return r.weightedShuffle(candidates, usageBasedWeight)
	case StrategyLatencyBased:
		return lowestLatency(candidates)
	default: // StrategySimpleShuffle
		return r.weightedShuffle(candidates, func(d *types.Deployment) float64 {
			if d.Weight <= 0 {
				return 1
			}
			return float64(d.Weight)
		})
	}
}

func leastBusy(candidates []*types.Deployment) *types.Deployment {
	best := candidates[0]
	for _, d := range candidates[1:] {
		busy := 0
		if d.Health != nil {
			busy = d.Health.ActiveRequests
		}
		bestBusy := 0
		if best.Health != nil {
			bestBusy = best.Health.ActiveRequests
		}
		if busy < bestBusy {
			best = d
		}
	}
	return best
}

func lowestLatency(candidates []*types.Deployment) *types.Deployment {
	best := candidates[0]
	for _, d := range candidates[1:] {
		lat := 0
		if d.Health != nil {
			lat = d.Health.AvgLatencyMs
		}
		bestLat := 0
		if best.Health != nil {
			bestLat = best.Health.AvgLatencyMs
		}
		if lat > 0 && (bestLat == 0 || lat < bestLat) {
			best = d
		}
	}
	return best
}

func usageBasedWeight(d *types.Deployment) float64 {
	successRate := 1.0
	if d.Health != nil && d.Health.SuccessRate > 0 {
		successRate = d.Health.SuccessRate
	}
	weight := float64(d.Weight)
	if weight <= 0 {
		weight = 1
	}
	return weight * successRate
}

func (r *DeploymentRouter) weightedShuffle(candidates []*types.Deployment, weightFn func(*types.Deployment) float64) *types.Deployment {
	var total float64
	for _, d := range candidates {
		total += weightFn(d)
	}
	if total <= 0 {
		return candidates[0]
	}

	r.rngMu.Lock()
	target := r.rng.Float64() * total
	r.rngMu.Unlock()

	var cumulative float64
	for _, d := range candidates {
		cumulative += weightFn(d)
		if cumulative >= target {
			return d
		}
	}
	return candidates[len(candidates)-1]
}

// RecordResult updates a deployment's health after a call completes,
// driving the cooldown state machine: three consecutive failures (or a
// success rate under 50% with at least 5 samples) puts it in cooldown
// for r.cooldownTime.
func (r *DeploymentRouter) RecordResult(deploymentID string, success bool, latency time.Duration, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[deploymentID]
	if !ok {
		return
	}
	if d.Health == nil {
		d.Health = &types.DeploymentHealth{}
	}
	h := d.Health

	const smoothing = 0.2
	sample := 0.0
	if success {
		sample = 1.0
	}
	if h.UpdatedAt.IsZero() {
		h.SuccessRate = sample
	} else {
		h.SuccessRate = h.SuccessRate*(1-smoothing) + sample*smoothing
	}

	if success {
		if h.AvgLatencyMs == 0 {
			h.AvgLatencyMs = int(latency.Milliseconds())
		} else {
			h.AvgLatencyMs = int(float64(h.AvgLatencyMs)*(1-smoothing) + float64(latency.Milliseconds())*smoothing)
		}
	} else {
		now := time.Now()
		h.LastError = errMsg
		h.LastErrorAt = &now
		if h.SuccessRate < 0.5 {
			until := now.Add(r.cooldownTime)
			h.CooldownUntil = &until
			r.logger.Warn("deployment entering cooldown",
				zap.String("deployment_id", deploymentID),
				zap.Float64("success_rate", h.SuccessRate),
				zap.Time("until", until))
		}
	}
	h.UpdatedAt = time.Now()
}

// IncrActive/DecrActive track in-flight request counts per deployment,
// consumed by the least-busy strategy.
func (r *DeploymentRouter) IncrActive(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[deploymentID]; ok && d.Health != nil {
		d.Health.ActiveRequests++
	}
}

func (r *DeploymentRouter) DecrActive(deploymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[deploymentID]; ok && d.Health != nil && d.Health.ActiveRequests > 0 {
		d.Health.ActiveRequests--
	}
}

// Deployments returns every deployment in a group, for diagnostics.
func (r *DeploymentRouter) Deployments(group string) []*types.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Deployment, len(r.byGroup[group]))
	copy(out, r.byGroup[group])
	return out
}
