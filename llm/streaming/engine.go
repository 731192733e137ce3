package streaming

import (
	"context"
	"time"

	"github.com/litellm-go/litellm/llm"
	"github.com/litellm-go/litellm/llm/providers"
)

// ToolCallAccumulator reassembles a streamed tool call from its
// index-addressed deltas: most providers split a single tool call's
// name and argument JSON across many chunks, identified by Index.
type ToolCallAccumulator struct {
	byIndex map[int]*llm.ToolCall
	order   []int
}

func newToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIndex: make(map[int]*llm.ToolCall)}
}

// Add folds one delta's tool calls into the accumulator, keyed by each
// call's position in the Delta.ToolCalls slice (providers that stream
// tool calls use this slice index as the stable identity of a call
// across chunks).
func (a *ToolCallAccumulator) Add(deltas []llm.ToolCall) {
	for i, tc := range deltas {
		existing, ok := a.byIndex[i]
		if !ok {
			cp := tc
			a.byIndex[i] = &cp
			a.order = append(a.order, i)
			continue
		}
		if tc.ID != "" {
			existing.ID = tc.ID
		}
		if tc.Name != "" {
			existing.Name = tc.Name
		}
		existing.Arguments = append(existing.Arguments, tc.Arguments...)
	}
}

// Finalize returns the assembled tool calls in first-seen order.
func (a *ToolCallAccumulator) Finalize() []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.byIndex[idx])
	}
	return out
}

// Engine drives any ProviderAdapter's ChunkIterator, applying a
// request deadline check per chunk, reassembling split tool calls, and
// accumulating usage so the terminal chunk carries the full-request
// totals even when the provider only reports partial counts per event.
type Engine struct {
	Deadline time.Time
}

// NewEngine creates a streaming engine honoring req's deadline, if any.
func NewEngine(req *llm.ChatRequest) *Engine {
	return &Engine{Deadline: req.Deadline}
}

// Run consumes it, emitting canonical chunks on the returned channel.
// The channel is closed when the iterator is exhausted, the deadline
// passes, or ctx is canceled; a terminal error is delivered as the last
// chunk's Err field before the channel closes.
func (e *Engine) Run(ctx context.Context, it providers.ChunkIterator) <-chan llm.StreamChunk {
	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		defer it.Close()

		tcAcc := newToolCallAccumulator()
		var usage llm.ChatUsage

		for {
			if !e.Deadline.IsZero() && time.Now().After(e.Deadline) {
				out <- llm.StreamChunk{Err: &llm.Error{
					Code:      llm.ErrTimeout,
					Message:   "stream deadline exceeded",
					Retryable: false,
				}}
				return
			}

			if !it.Next(ctx) {
				if err := it.Err(); err != nil {
					if e, ok := err.(*llm.Error); ok {
						out <- llm.StreamChunk{Err: e}
					} else {
						out <- llm.StreamChunk{Err: &llm.Error{
							Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true,
						}}
					}
				}
				return
			}

			chunk := it.Chunk()
			if len(chunk.Delta.ToolCalls) > 0 {
				tcAcc.Add(chunk.Delta.ToolCalls)
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}

			if chunk.FinishReason != "" {
				if final := tcAcc.Finalize(); len(final) > 0 {
					chunk.Delta.ToolCalls = final
				}
				if usage.TotalTokens > 0 {
					chunk.Usage = &usage
				}
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// NonStreamingBypass drains a full streaming response into a single
// ChatResponse for callers that forced Stream=false against a provider
// whose adapter only implements streaming internally (some OpenAI
// Responses-API-only deployments behave this way).
func NonStreamingBypass(ctx context.Context, ch <-chan llm.StreamChunk) (*llm.ChatResponse, error) {
	var content string
	var toolCalls []llm.ToolCall
	var usage llm.ChatUsage
	var finishReason string
	var model, provider, id string

	for chunk := range ch {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Provider != "" {
			provider = chunk.Provider
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		content += chunk.Delta.Content
		if len(chunk.Delta.ToolCalls) > 0 {
			toolCalls = chunk.Delta.ToolCalls
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
		}
	}

	return &llm.ChatResponse{
		ID:        id,
		Provider:  provider,
		Model:     model,
		CreatedAt: time.Now(),
		Usage:     usage,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: finishReason,
			Message: llm.Message{
				Role:      llm.RoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			},
		}},
	}, nil
}
