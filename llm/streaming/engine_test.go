package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litellm-go/litellm/llm"
)

type fakeIterator struct {
	chunks []llm.StreamChunk
	idx    int
	err    error
	closed bool
}

func (f *fakeIterator) Next(ctx context.Context) bool {
	if f.idx >= len(f.chunks) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeIterator) Chunk() llm.StreamChunk { return f.chunks[f.idx-1] }
func (f *fakeIterator) Err() error             { return f.err }
func (f *fakeIterator) Close() error           { f.closed = true; return nil }

func TestEngine_Run_PassesThroughChunks(t *testing.T) {
	it := &fakeIterator{chunks: []llm.StreamChunk{
		{Delta: llm.Message{Content: "hel"}},
		{Delta: llm.Message{Content: "lo"}, FinishReason: "stop"},
	}}

	e := NewEngine(&llm.ChatRequest{})
	out := e.Run(context.Background(), it)

	var got []llm.StreamChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "hel", got[0].Delta.Content)
	assert.Equal(t, "lo", got[1].Delta.Content)
	assert.True(t, it.closed)
}

func TestEngine_Run_ReassemblesToolCallsByIndex(t *testing.T) {
	it := &fakeIterator{chunks: []llm.StreamChunk{
		{Delta: llm.Message{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "search", Arguments: []byte(`{"q":`)}}}},
		{Delta: llm.Message{ToolCalls: []llm.ToolCall{{Arguments: []byte(`"go"}`)}}}},
		{FinishReason: "tool_calls"},
	}}

	e := NewEngine(&llm.ChatRequest{})
	out := e.Run(context.Background(), it)

	var final llm.StreamChunk
	for c := range out {
		final = c
	}

	require.Len(t, final.Delta.ToolCalls, 1)
	assert.Equal(t, "call-1", final.Delta.ToolCalls[0].ID)
	assert.Equal(t, "search", final.Delta.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, string(final.Delta.ToolCalls[0].Arguments))
}

func TestEngine_Run_StopsOnDeadline(t *testing.T) {
	it := &fakeIterator{chunks: []llm.StreamChunk{
		{Delta: llm.Message{Content: "x"}},
	}}

	e := &Engine{Deadline: time.Now().Add(-time.Second)}
	out := e.Run(context.Background(), it)

	c := <-out
	require.NotNil(t, c.Err)
	assert.Equal(t, llm.ErrTimeout, c.Err.Code)
}

func TestEngine_Run_SurfacesIteratorError(t *testing.T) {
	it := &fakeIterator{err: &llm.Error{Code: llm.ErrUpstreamError, Message: "broke"}}

	e := NewEngine(&llm.ChatRequest{})
	out := e.Run(context.Background(), it)

	c := <-out
	require.NotNil(t, c.Err)
	assert.Equal(t, llm.ErrUpstreamError, c.Err.Code)
}

func TestNonStreamingBypass_AssemblesFullResponse(t *testing.T) {
	ch := make(chan llm.StreamChunk, 3)
	ch <- llm.StreamChunk{Model: "m-1", Delta: llm.Message{Content: "hel"}}
	ch <- llm.StreamChunk{Delta: llm.Message{Content: "lo"}}
	ch <- llm.StreamChunk{FinishReason: "stop", Usage: &llm.ChatUsage{TotalTokens: 5}}
	close(ch)

	resp, err := NonStreamingBypass(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestNonStreamingBypass_ReturnsChunkError(t *testing.T) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: "nope"}}
	close(ch)

	_, err := NonStreamingBypass(context.Background(), ch)
	require.Error(t, err)
}
