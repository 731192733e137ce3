// Package callbacks dispatches post-response logging hooks for the
// gateway, mirroring the ordered-handler-list pattern already used by
// budget.TokenBudgetManager.OnAlert and circuitbreaker.Config.OnStateChange,
// generalized to the four hook lists the pipeline fires into.
package callbacks

import (
	"context"
	"sync"
	"time"

	"github.com/litellm-go/litellm/internal/pool"
	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/types"
	"go.uber.org/zap"
)

// StandardLoggingPayload is the canonical, serializable record every
// callback receives, covering a single request end to end.
type StandardLoggingPayload struct {
	RequestID    string            `json:"request_id"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	Model        string            `json:"model"`
	ModelGroup   string            `json:"model_group,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Principal    types.Principal   `json:"principal"`
	Request      *llm.ChatRequest  `json:"request,omitempty"`
	Response     *llm.ChatResponse `json:"response,omitempty"`
	Usage        llm.ChatUsage     `json:"usage"`
	CostCents    int64             `json:"cost_cents,omitempty"`
	CacheHit     bool              `json:"cache_hit"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	DurationMs   int64             `json:"duration_ms"`
	Error        *types.Error      `json:"error,omitempty"`
	Attempts     int               `json:"attempts,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Duration returns EndTime - StartTime.
func (p *StandardLoggingPayload) Duration() time.Duration {
	return p.EndTime.Sub(p.StartTime)
}

// Hook is a single registered callback.
type Hook func(ctx context.Context, payload *StandardLoggingPayload)

// LoggingCallbackManager owns the four ordered hook lists the pipeline
// fires into: sync_success/sync_failure run before the logging future
// resolves (but after the client already has its response), while
// async_success/async_failure are dispatched in background goroutines
// for sinks the pipeline doesn't wait on. Only this manager mutates the
// lists; Run* callers get a read-only copy-on-write snapshot so
// iteration never races a concurrent registration.
type LoggingCallbackManager struct {
	mu sync.RWMutex

	syncSuccess  []Hook
	syncFailure  []Hook
	asyncSuccess []Hook
	asyncFailure []Hook

	pool   *pool.GoroutinePool
	logger *zap.Logger
}

// NewLoggingCallbackManager creates an empty manager. Async hooks run on
// a bounded worker pool instead of one goroutine per call, so a sink
// stalling under load (a slow webhook, a backed-up log shipper) can't
// spawn unbounded goroutines per request.
func NewLoggingCallbackManager(logger *zap.Logger) *LoggingCallbackManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingCallbackManager{
		pool:   pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig()),
		logger: logger,
	}
}

// OnSyncSuccess registers h to run, in order, after every successful
// request, before RunSuccess returns to its caller.
func (m *LoggingCallbackManager) OnSyncSuccess(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncSuccess = append(m.syncSuccess, h)
}

// OnSyncFailure registers h to run, in order, after every failed request.
func (m *LoggingCallbackManager) OnSyncFailure(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncFailure = append(m.syncFailure, h)
}

// OnAsyncSuccess registers h to run in a background goroutine after a
// successful request.
func (m *LoggingCallbackManager) OnAsyncSuccess(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asyncSuccess = append(m.asyncSuccess, h)
}

// OnAsyncFailure registers h to run in a background goroutine after a
// failed request.
func (m *LoggingCallbackManager) OnAsyncFailure(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asyncFailure = append(m.asyncFailure, h)
}

// RunSuccess dispatches both success lists for payload. Sync hooks run
// in-line and complete before RunSuccess returns; async hooks are
// submitted to the worker pool without waiting (each gets its own
// goroutine only when the pool rejects it). A panicking or
// otherwise failing hook is logged and never blocks its siblings.
func (m *LoggingCallbackManager) RunSuccess(ctx context.Context, payload *StandardLoggingPayload) {
	m.mu.RLock()
	sync := append([]Hook(nil), m.syncSuccess...)
	async := append([]Hook(nil), m.asyncSuccess...)
	m.mu.RUnlock()

	m.runAll(ctx, sync, payload, "sync_success")
	for _, h := range async {
		m.runAsync(ctx, h, payload, "async_success")
	}
}

// RunFailure dispatches both failure lists for payload.
func (m *LoggingCallbackManager) RunFailure(ctx context.Context, payload *StandardLoggingPayload) {
	m.mu.RLock()
	sync := append([]Hook(nil), m.syncFailure...)
	async := append([]Hook(nil), m.asyncFailure...)
	m.mu.RUnlock()

	m.runAll(ctx, sync, payload, "sync_failure")
	for _, h := range async {
		m.runAsync(ctx, h, payload, "async_failure")
	}
}

// runAsync submits h to the worker pool; if the pool is saturated and
// rejects the task, the hook falls back to its own goroutine rather
// than silently dropping the callback.
func (m *LoggingCallbackManager) runAsync(ctx context.Context, h Hook, payload *StandardLoggingPayload, list string) {
	err := m.pool.Submit(ctx, func(ctx context.Context) error {
		m.runOne(ctx, h, payload, list)
		return nil
	})
	if err != nil {
		go m.runOne(ctx, h, payload, list)
	}
}

func (m *LoggingCallbackManager) runAll(ctx context.Context, hooks []Hook, payload *StandardLoggingPayload, list string) {
	for _, h := range hooks {
		m.runOne(ctx, h, payload, list)
	}
}

func (m *LoggingCallbackManager) runOne(ctx context.Context, h Hook, payload *StandardLoggingPayload, list string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked",
				zap.String("list", list),
				zap.String("request_id", payload.RequestID),
				zap.Any("recover", r))
		}
	}()
	h(ctx, payload)
}
