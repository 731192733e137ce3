// Command litellm-gateway wires the gateway's components together and
// serves the chat-completions endpoint. Deployment and credential
// configuration is intentionally minimal here — loading a full
// model_list/router_settings YAML file is the admin-config surface this
// module does not implement (see DESIGN.md).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/litellm-go/litellm/internal/ctxkeys"
	"github.com/litellm-go/litellm/internal/metrics"
	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/budget"
	"github.com/litellm-go/litellm/llm/cache"
	"github.com/litellm-go/litellm/llm/callbacks"
	llmproviders "github.com/litellm-go/litellm/llm/providers"
	"github.com/litellm-go/litellm/llm/providers/azure"
	"github.com/litellm-go/litellm/llm/providers/bedrock"
	"github.com/litellm-go/litellm/llm/providers/deepseek"
	"github.com/litellm-go/litellm/llm/providers/openai"
	"github.com/litellm-go/litellm/llm/providers/qwen"
	"github.com/litellm-go/litellm/llm/pipeline"
	"github.com/litellm-go/litellm/llm/router"
	claude "github.com/litellm-go/litellm/providers"
	claudeprovider "github.com/litellm-go/litellm/providers/anthropic"
	"github.com/litellm-go/litellm/types"
)

// registry is the ProviderRegistry the pipeline dispatches through.
type registry struct {
	byName map[string]llm.Provider
}

func (r *registry) Provider(name string) (llm.Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

func buildRegistry(logger *zap.Logger) *registry {
	r := &registry{byName: map[string]llm.Provider{}}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		r.byName["openai"] = openai.NewOpenAIProvider(llmproviders.OpenAIConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{APIKey: key, Model: "gpt-4o"},
		}, logger)
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		r.byName["deepseek"] = deepseek.NewDeepSeekProvider(llmproviders.DeepSeekConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{APIKey: key},
		}, logger)
	}
	if key := os.Getenv("QWEN_API_KEY"); key != "" {
		r.byName["qwen"] = qwen.NewQwenProvider(llmproviders.QwenConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{APIKey: key},
		}, logger)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		r.byName["claude"] = claudeprovider.NewClaudeProvider(claude.ClaudeConfig{
			APIKey: key,
		}, logger)
	}
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		r.byName["azure"] = azure.NewAzureProvider(llmproviders.AzureConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{APIKey: key, BaseURL: os.Getenv("AZURE_OPENAI_ENDPOINT")},
			Deployment:         os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		}, logger)
	}
	if region := os.Getenv("AWS_REGION"); region != "" && os.Getenv("AWS_ACCESS_KEY_ID") != "" {
		r.byName["bedrock"] = bedrock.NewBedrockProvider(llmproviders.BedrockConfig{
			BaseProviderConfig: llmproviders.BaseProviderConfig{Model: os.Getenv("BEDROCK_MODEL_ID")},
			Region:             region,
			AccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:       os.Getenv("AWS_SESSION_TOKEN"),
		}, logger)
	}

	return r
}

// buildDeployments registers one deployment per configured provider
// under a single "default" model group, enough to exercise routing
// without a full YAML model_list.
func buildDeployments(rt *router.DeploymentRouter, r *registry) {
	for name, prov := range r.byName {
		rt.AddDeployment(&types.Deployment{
			ID:             uuid.NewString(),
			ModelGroup:     "default",
			Provider:       name,
			Model:          name,
			SupportsTools:  prov.SupportsNativeFunctionCalling(),
			SupportsStream: true,
			Weight:         100,
		})
	}
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	redisAddr := flag.String("redis", "", "redis address for shared budget/cache (empty disables both)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	reg := buildRegistry(logger)
	if len(reg.byName) == 0 {
		logger.Fatal("no provider credentials configured; set at least one of OPENAI_API_KEY/DEEPSEEK_API_KEY/QWEN_API_KEY/ANTHROPIC_API_KEY/AZURE_OPENAI_API_KEY, or AWS_REGION with AWS_ACCESS_KEY_ID")
	}

	rt := router.NewDeploymentRouter(router.StrategyUsageBased, 60*time.Second, logger)
	buildDeployments(rt, reg)

	var rdb *redis.Client
	var limiter *budget.SharedLimiter
	var promptCache *cache.MultiLevelCache
	if *redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *redisAddr})
		limiter = budget.NewSharedLimiter(rdb, logger)
		promptCache = cache.NewMultiLevelCache(rdb, cache.DefaultCacheConfig(), logger)
	}

	cbManager := callbacks.NewLoggingCallbackManager(logger)
	cbManager.OnSyncSuccess(func(ctx context.Context, p *callbacks.StandardLoggingPayload) {
		traceID, _ := ctxkeys.TraceID(ctx)
		logger.Info("request completed",
			zap.String("request_id", p.RequestID),
			zap.String("trace_id", traceID),
			zap.String("deployment_id", p.DeploymentID),
			zap.Int64("duration_ms", p.DurationMs),
			zap.Int("total_tokens", p.Usage.TotalTokens))
	})
	cbManager.OnSyncFailure(func(ctx context.Context, p *callbacks.StandardLoggingPayload) {
		traceID, _ := ctxkeys.TraceID(ctx)
		logger.Warn("request failed",
			zap.String("request_id", p.RequestID),
			zap.String("trace_id", traceID),
			zap.Int("attempts", p.Attempts),
			zap.Error(p.Error))
	})

	metricsCollector := metrics.NewCollector("litellm_gateway", logger)

	pipe := pipeline.New(pipeline.Config{
		Router:    rt,
		Providers: reg,
		Cache:     promptCache,
		Limiter:   limiter,
		Callbacks: cbManager,
		Metrics:   metricsCollector,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", chatCompletionsHandler(pipe))
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("litellm-gateway listening", zap.String("addr", *addr), zap.Int("providers", len(reg.byName)))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func chatCompletionsHandler(pipe *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &types.Error{Code: types.ErrInvalidRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest})
			return
		}
		if req.TraceID == "" {
			req.TraceID = uuid.NewString()
		}
		if req.ModelGroup == "" {
			req.ModelGroup = "default"
		}
		if req.Model == "" {
			req.Model = req.ModelGroup
		}

		ctx := ctxkeys.WithTraceID(r.Context(), req.TraceID)

		if req.Stream {
			ch, err := pipe.Stream(ctx, &req)
			if err != nil {
				writeError(w, err)
				return
			}
			streamSSE(w, ch)
			return
		}

		resp, err := pipe.Execute(ctx, &req)
		if err != nil {
			writeError(w, err)
			return
		}
		if resp.ID != "" {
			w.Header().Set("x-litellm-model-id", resp.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func streamSSE(w http.ResponseWriter, ch <-chan llm.StreamChunk) {
	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	for chunk := range ch {
		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: "))
		w.Write(data)
		w.Write([]byte("\n\n"))
		if ok {
			flusher.Flush()
		}
	}
	w.Write([]byte("data: [DONE]\n\n"))
	if ok {
		flusher.Flush()
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"message": err.Error(), "type": "internal"}
	if le, ok := err.(*types.Error); ok {
		if le.HTTPStatus != 0 {
			status = le.HTTPStatus
		}
		body = map[string]any{
			"message": le.Message,
			"type":    string(le.Code),
			"code":    string(le.Code),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}
