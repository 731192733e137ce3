package types

import "time"

// CallType distinguishes the wire shape of a request so adapters and the
// router can branch without string-matching a path.
type CallType string

const (
	CallTypeCompletion      CallType = "completion"
	CallTypeChatCompletion  CallType = "chat_completion"
	CallTypeEmbedding       CallType = "embedding"
	CallTypeImageGeneration CallType = "image_generation"
	CallTypeModeration      CallType = "moderation"
	CallTypeRerank          CallType = "rerank"
)

// Principal identifies the caller a request is billed and rate-limited
// against. A request can carry several of these dimensions at once; the
// budget manager checks each that is set.
type Principal struct {
	APIKeyHash string `json:"api_key_hash,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
	OrgID      string `json:"org_id,omitempty"`
	EndUserID  string `json:"end_user_id,omitempty"`
}

// IsZero reports whether no principal dimension is set.
func (p Principal) IsZero() bool {
	return p.APIKeyHash == "" && p.UserID == "" && p.TeamID == "" && p.OrgID == "" && p.EndUserID == ""
}

// DeploymentHealth tracks a deployment's rolling success/latency signal,
// consulted by the router's least-busy and usage-based strategies and by
// the cooldown state machine.
type DeploymentHealth struct {
	SuccessRate    float64
	AvgLatencyMs   int
	ActiveRequests int
	LastError      string
	LastErrorAt    *time.Time
	CooldownUntil  *time.Time
	UpdatedAt      time.Time
}

// InCooldown reports whether the deployment is currently excluded from
// selection.
func (h *DeploymentHealth) InCooldown(now time.Time) bool {
	return h.CooldownUntil != nil && now.Before(*h.CooldownUntil)
}

// Deployment is one routable backend behind a model group: a provider,
// model, and set of capabilities/limits, keyed by a stable ID so the
// router can pin a retry to the same or a different deployment.
type Deployment struct {
	ID            string
	ModelGroup    string
	Provider      string
	Model         string
	APIBase       string
	Tags          []string
	Weight        int
	RPM           int
	TPM           int
	MaxCostPerReq float64
	SupportsTools bool
	SupportsVision bool
	SupportsStream bool
	Health        *DeploymentHealth
	Params        map[string]any
}

// Clone returns a shallow copy suitable for use as a default-deployment
// template: callers may overwrite ID/Model/APIBase on the copy without
// mutating the template.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Tags != nil {
		cp.Tags = append([]string(nil), d.Tags...)
	}
	if d.Params != nil {
		cp.Params = make(map[string]any, len(d.Params))
		for k, v := range d.Params {
			cp.Params[k] = v
		}
	}
	if d.Health != nil {
		h := *d.Health
		cp.Health = &h
	}
	return &cp
}

// UsageWindow is a fixed-size accounting bucket (minute/hour/day) for a
// single Principal/model dimension, backing the shared budget cache.
type UsageWindow struct {
	Key         string
	WindowStart time.Time
	Requests    int64
	Tokens      int64
	CostCents   int64
}

// Expired reports whether now has moved past this window's bucket.
func (w UsageWindow) Expired(now time.Time, size time.Duration) bool {
	return now.Sub(w.WindowStart) >= size
}

// CachedResponse is the value stored by the response cache, keyed by a
// fingerprint of the normalized request.
type CachedResponse struct {
	Fingerprint string
	Body        []byte
	Model       string
	Provider    string
	StoredAt    time.Time
	TTL         time.Duration
}

// Stale reports whether the cached entry has outlived its TTL.
func (c CachedResponse) Stale(now time.Time) bool {
	if c.TTL <= 0 {
		return false
	}
	return now.Sub(c.StoredAt) >= c.TTL
}
