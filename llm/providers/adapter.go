package providers

import (
	"context"
	"net/http"

	"github.com/litellm-go/litellm/llm"
)

// ChunkIterator yields canonical stream chunks from a provider's raw
// wire stream. Next returns false once the stream is exhausted or ctx
// is done; Err reports the terminal error, if any.
type ChunkIterator interface {
	Next(ctx context.Context) bool
	Chunk() llm.StreamChunk
	Err() error
	Close() error
}

// ProviderAdapter is the narrow seam the OpenAI-compatible vendor family
// (openai, deepseek, qwen, glm, grok, doubao, minimax, kimi, llama,
// mistral, azure) implements via the shared openaicompat base, so a
// vendor's URL/header/payload/error-mapping deltas live in a handful of
// methods instead of a copy-pasted Completion. Providers with their own
// wire shape (Anthropic, Gemini, Bedrock) implement llm.Provider
// directly instead — there's no shared request/response JSON to factor
// through this seam.
type ProviderAdapter interface {
	// ValidateEnvironment checks that required credentials/config are
	// present before a request is attempted, returning a descriptive
	// error instead of letting the first HTTP call fail opaquely.
	ValidateEnvironment(ctx context.Context) error

	// GetCompleteURL returns the fully-qualified request URL for a
	// call, including any provider-specific query parameters (e.g.
	// Azure's api-version).
	GetCompleteURL(req *llm.ChatRequest) (string, error)

	// TransformRequest converts a canonical ChatRequest into the
	// provider's wire body.
	TransformRequest(req *llm.ChatRequest) (any, error)

	// TransformResponse converts the provider's raw HTTP response into
	// a canonical ChatResponse.
	TransformResponse(resp *http.Response, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// GetModelResponseIterator wraps a streaming HTTP response in a
	// ChunkIterator that yields canonical StreamChunks.
	GetModelResponseIterator(resp *http.Response, req *llm.ChatRequest) (ChunkIterator, error)

	// TransformChunk converts one raw SSE/wire event into a canonical
	// StreamChunk; implementations that stream in larger frames can
	// fold this into GetModelResponseIterator instead.
	TransformChunk(raw []byte, req *llm.ChatRequest) (llm.StreamChunk, error)

	// MapOpenAIParams translates OpenAI-shaped request parameters into
	// whatever the provider natively supports, dropping any it cannot
	// express when req.Metadata["drop_params"] == "true"; otherwise it
	// returns an UNSUPPORTED_PARAMS error naming the offending key.
	MapOpenAIParams(req *llm.ChatRequest, dropUnsupported bool) (*llm.ChatRequest, error)

	// GetErrorClass classifies a raw HTTP error response into the
	// canonical *llm.Error taxonomy.
	GetErrorClass(resp *http.Response, body []byte) *llm.Error
}
