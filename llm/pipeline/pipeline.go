// Package pipeline orchestrates a single chat request through its
// stages in order: pre-call hooks, admission (shared budget/rate-limit
// check), cache lookup, deployment selection, dispatch, cache store and
// cost pricing, post-call callbacks, and return — looping back to
// selection on a retryable failure.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/litellm-go/litellm/internal/metrics"
	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/budget"
	"github.com/litellm-go/litellm/llm/cache"
	"github.com/litellm-go/litellm/llm/callbacks"
	"github.com/litellm-go/litellm/llm/observability"
	"github.com/litellm-go/litellm/llm/router"
	"github.com/litellm-go/litellm/types"
	"go.uber.org/zap"
)

// PreCallHook inspects or mutates a request before dispatch (e.g. a
// guardrail input scan); returning an error aborts the request before
// any deployment is ever called.
type PreCallHook func(ctx context.Context, req *llm.ChatRequest) error

// ProviderRegistry resolves a deployment's Provider field to the
// concrete adapter that actually speaks its wire protocol.
type ProviderRegistry interface {
	Provider(name string) (llm.Provider, bool)
}

// Limits supplies the per-dimension RPM/TPM/spend caps the shared
// limiter checks before a request is admitted.
type Limits map[budget.Dimension]budget.Limit

// Config wires every component the pipeline depends on.
type Config struct {
	Router       *router.DeploymentRouter
	Providers    ProviderRegistry
	Cache        *cache.MultiLevelCache
	Limiter      *budget.SharedLimiter
	Limits       Limits
	Callbacks    *callbacks.LoggingCallbackManager
	Metrics      *metrics.Collector
	CostCalc     *observability.CostCalculator
	PreCallHooks []PreCallHook

	// MaxSelectionAttempts bounds how many times stage 5-7 can loop
	// back to a new deployment selection after a retryable failure
	// before the pipeline surfaces the last error.
	MaxSelectionAttempts int

	Logger *zap.Logger
}

var tracer = otel.Tracer("github.com/litellm-go/litellm/llm/pipeline")

// Pipeline runs requests through the nine stages, end to end.
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline from cfg, filling in defaults.
func New(cfg Config) *Pipeline {
	if cfg.MaxSelectionAttempts <= 0 {
		cfg.MaxSelectionAttempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CostCalc == nil {
		cfg.CostCalc = observability.NewCostCalculator()
	}
	return &Pipeline{cfg: cfg}
}

// Execute runs the full pipeline for a non-streaming request.
func (p *Pipeline) Execute(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	payload := &callbacks.StandardLoggingPayload{
		RequestID:  req.TraceID,
		Model:      req.Model,
		ModelGroup: req.ModelGroup,
		Principal:  req.Principal,
		Request:    req,
		StartTime:  start,
		Metadata:   req.Metadata,
	}

	resp, cacheHit, err := p.execute(ctx, req, payload)
	payload.EndTime = time.Now()
	payload.DurationMs = payload.Duration().Milliseconds()
	payload.CacheHit = cacheHit
	payload.Response = resp

	if p.cfg.Callbacks != nil {
		if err != nil {
			if le, ok := err.(*types.Error); ok {
				payload.Error = le
			}
			p.cfg.Callbacks.RunFailure(ctx, payload)
		} else {
			payload.Usage = resp.Usage
			p.cfg.Callbacks.RunSuccess(ctx, payload)
		}
	}

	return resp, err
}

func (p *Pipeline) execute(ctx context.Context, req *llm.ChatRequest, payload *callbacks.StandardLoggingPayload) (*llm.ChatResponse, bool, error) {
	// Stage 1-2: pre-call hooks.
	for _, hook := range p.cfg.PreCallHooks {
		if err := hook(ctx, req); err != nil {
			return nil, false, toGatewayError(err, "", req.Model)
		}
	}

	// Stage 3: admission — reject before a deployment is ever touched.
	if p.cfg.Limiter != nil && p.cfg.Limits != nil {
		dims := principalDimensions(req.Principal, req.Model)
		if dim, err := p.cfg.Limiter.Admit(ctx, dims, p.cfg.Limits, estimateTokens(req), 0); err != nil {
			return nil, false, (&types.Error{
				Code:       types.ErrBudgetExceeded,
				Message:    fmt.Sprintf("budget exceeded for dimension %s: %v", dim, err),
				HTTPStatus: 429,
				Retryable:  false,
			})
		}
	}

	// Stage 4: cache lookup.
	if p.cfg.Cache != nil && !req.Stream {
		key := p.cfg.Cache.GenerateKey(req)
		if p.cfg.Cache.IsCacheable(req) {
			entry, err := p.cfg.Cache.Get(ctx, key)
			if err == nil {
				if resp, ok := entry.Response.(*llm.ChatResponse); ok {
					p.recordCacheResult(true)
					return resp, true, nil
				}
			}
			p.recordCacheResult(false)
		}
	}

	var lastErr error
	excluded := map[string]bool{}

	for attempt := 1; attempt <= p.cfg.MaxSelectionAttempts; attempt++ {
		// Stage 5: selection.
		dep, err := p.cfg.Router.Select(ctx, &router.SelectRequest{
			Model:         req.Model,
			Tags:          req.Tags,
			RequireTools:  len(req.Tools) > 0,
			RequireStream: req.Stream,
			ExcludeIDs:    excluded,
		})
		if err != nil {
			return nil, false, toGatewayError(err, "", req.Model)
		}
		payload.DeploymentID = dep.ID
		payload.Provider = dep.Provider

		prov, ok := p.cfg.Providers.Provider(dep.Provider)
		if !ok {
			return nil, false, (&types.Error{
				Code:      types.ErrProviderUnavailable,
				Message:   fmt.Sprintf("no adapter registered for provider %q", dep.Provider),
				Retryable: false,
			})
		}

		dispatchReq := *req
		dispatchReq.Model = dep.Model

		ctx, span := tracer.Start(ctx, "pipeline.dispatch",
			oteltrace.WithAttributes(
				attribute.String("llm.provider", dep.Provider),
				attribute.String("llm.model", dep.Model),
				attribute.String("llm.deployment_id", dep.ID),
			))

		p.cfg.Router.IncrActive(dep.ID)
		callStart := time.Now()
		resp, err := prov.Completion(ctx, &dispatchReq)
		latency := time.Since(callStart)
		p.cfg.Router.DecrActive(dep.ID)

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err == nil {
			p.cfg.Router.RecordResult(dep.ID, true, latency, "")
			p.storeCache(ctx, req, resp)
			cost := p.cfg.CostCalc.Calculate(dep.Provider, dep.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			payload.CostCents = int64(cost * 100)
			p.recordLLMResult(dep.Provider, dep.Model, "success", latency, resp.Usage, cost)
			return resp, false, nil
		}

		p.cfg.Router.RecordResult(dep.ID, false, latency, err.Error())
		p.recordLLMResult(dep.Provider, dep.Model, "error", latency, llm.ChatUsage{}, 0)
		lastErr = err
		payload.Attempts = attempt

		if !isRetryable(err) {
			return nil, false, err
		}
		excluded[dep.ID] = true
	}

	return nil, false, lastErr
}

// Stream runs the pipeline for a streaming request, returning a channel
// that forwards the selected provider's chunks unchanged. It makes one
// selection with no retry, and skips pre-call hooks, admission and the
// cache.
func (p *Pipeline) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	dep, err := p.cfg.Router.Select(ctx, &router.SelectRequest{
		Model:         req.Model,
		Tags:          req.Tags,
		RequireTools:  len(req.Tools) > 0,
		RequireStream: true,
	})
	if err != nil {
		return nil, toGatewayError(err, "", req.Model)
	}

	prov, ok := p.cfg.Providers.Provider(dep.Provider)
	if !ok {
		return nil, &types.Error{
			Code:    types.ErrProviderUnavailable,
			Message: fmt.Sprintf("no adapter registered for provider %q", dep.Provider),
		}
	}

	dispatchReq := *req
	dispatchReq.Model = dep.Model
	dispatchReq.Stream = true

	p.cfg.Router.IncrActive(dep.ID)
	start := time.Now()
	raw, err := prov.Stream(ctx, &dispatchReq)
	if err != nil {
		p.cfg.Router.DecrActive(dep.ID)
		p.cfg.Router.RecordResult(dep.ID, false, time.Since(start), err.Error())
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer p.cfg.Router.DecrActive(dep.ID)
		success := true
		for chunk := range raw {
			if chunk.Err != nil {
				success = false
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				p.cfg.Router.RecordResult(dep.ID, false, time.Since(start), ctx.Err().Error())
				return
			}
		}
		p.cfg.Router.RecordResult(dep.ID, success, time.Since(start), "")
	}()
	// streaming.Engine's deadline/tool-call assembly wraps a
	// providers.ChunkIterator; channel-based adapters like the
	// openaicompat family already emit assembled canonical chunks, so
	// only a ProviderAdapter-based dispatch path needs to route through it.
	return out, nil
}

func (p *Pipeline) storeCache(ctx context.Context, req *llm.ChatRequest, resp *llm.ChatResponse) {
	if p.cfg.Cache == nil || !p.cfg.Cache.IsCacheable(req) {
		return
	}
	key := p.cfg.Cache.GenerateKey(req)
	_ = p.cfg.Cache.Set(ctx, key, &cache.CacheEntry{Response: resp})
}

func (p *Pipeline) recordCacheResult(hit bool) {
	if p.cfg.Metrics == nil {
		return
	}
	if hit {
		p.cfg.Metrics.RecordCacheHit("prompt")
	} else {
		p.cfg.Metrics.RecordCacheMiss("prompt")
	}
}

func (p *Pipeline) recordLLMResult(provider, model, status string, latency time.Duration, usage llm.ChatUsage, cost float64) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.RecordLLMRequest(provider, model, status, latency, usage.PromptTokens, usage.CompletionTokens, cost)
}

func principalDimensions(pr types.Principal, model string) map[budget.Dimension]string {
	dims := map[budget.Dimension]string{
		budget.DimensionModel: model,
	}
	if pr.APIKeyHash != "" {
		dims[budget.DimensionAPIKey] = pr.APIKeyHash
	}
	if pr.UserID != "" {
		dims[budget.DimensionUser] = pr.UserID
	}
	if pr.TeamID != "" {
		dims[budget.DimensionTeam] = pr.TeamID
	}
	if pr.OrgID != "" {
		dims[budget.DimensionOrg] = pr.OrgID
	}
	if pr.EndUserID != "" {
		dims[budget.DimensionEndUser] = pr.EndUserID
	}
	return dims
}

var (
	tokenEncOnce sync.Once
	tokenEnc     *tiktoken.Tiktoken
)

// tiktokenEncoding lazily loads the cl100k_base encoding shared by every
// OpenAI-compatible vendor's chat models; admission only needs a
// same-ballpark estimate, so one shared encoding beats a per-model table.
func tiktokenEncoding() *tiktoken.Tiktoken {
	tokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEnc = enc
		}
	})
	return tokenEnc
}

// estimateTokens sizes a request for admission before any deployment is
// called. It prefers a real tiktoken count over the message content and
// falls back to a chars/4 heuristic if the encoding failed to load (e.g.
// no network access to fetch its vocabulary on first use).
func estimateTokens(req *llm.ChatRequest) int64 {
	enc := tiktokenEncoding()
	total := 0
	for _, m := range req.Messages {
		if enc != nil {
			total += len(enc.Encode(m.Content, nil, nil)) + 4
		} else {
			total += len(m.Content)/4 + 4
		}
	}
	if req.MaxTokens > 0 {
		total += req.MaxTokens
	}
	return int64(total)
}

func isRetryable(err error) bool {
	if le, ok := err.(*types.Error); ok {
		return le.Retryable
	}
	return false
}

func toGatewayError(err error, provider, model string) error {
	if le, ok := err.(*types.Error); ok {
		return le
	}
	return (&types.Error{
		Code:     types.ErrInternalError,
		Message:  err.Error(),
		Provider: provider,
		Model:    model,
	})
}
