package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/provider"
)

// testDecoder feeds a fixed sequence of raw chunk payloads to the
// ssestream.Stream, mirroring providers/anthropic/stream_test.go's
// testDecoder (itself grounded on features/model/anthropic/stream_test.go).
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }
func (d *testDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}
func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestStreamer_TextAndToolCallAndUsage(t *testing.T) {
	textChunk := sdk.ChatCompletionChunk{
		Choices: []sdk.ChatCompletionChunkChoice{
			{Delta: sdk.ChatCompletionChunkChoiceDelta{Content: "hello"}},
		},
	}
	toolChunk := sdk.ChatCompletionChunk{
		Choices: []sdk.ChatCompletionChunkChoice{
			{Delta: sdk.ChatCompletionChunkChoiceDelta{
				ToolCalls: []sdk.ChatCompletionChunkChoiceDeltaToolCall{
					{Index: 0, ID: "t1", Function: sdk.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: "lookup", Arguments: `{"x"`}},
				},
			}},
		},
	}
	toolChunk2 := sdk.ChatCompletionChunk{
		Choices: []sdk.ChatCompletionChunkChoice{
			{Delta: sdk.ChatCompletionChunkChoiceDelta{
				ToolCalls: []sdk.ChatCompletionChunkChoiceDeltaToolCall{
					{Index: 0, Function: sdk.ChatCompletionChunkChoiceDeltaToolCallFunction{Arguments: `:1}`}},
				},
			}},
		},
	}
	stopChunk := sdk.ChatCompletionChunk{
		Choices: []sdk.ChatCompletionChunkChoice{{FinishReason: "tool_calls"}},
		Usage:   sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	events := []ssestream.Event{
		{Type: "", Data: mustJSON(t, textChunk)},
		{Type: "", Data: mustJSON(t, toolChunk)},
		{Type: "", Data: mustJSON(t, toolChunk2)},
		{Type: "", Data: mustJSON(t, stopChunk)},
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.ChatCompletionChunk](dec, nil)
	s := newStreamer(context.Background(), stream)
	defer s.Close()

	var chunks []provider.Chunk
	for {
		c, err := s.Recv()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("unexpected context error: %v", err)
			}
			break
		}
		chunks = append(chunks, c)
	}

	var sawText, sawToolStart, sawToolDelta, sawUsage, sawStop bool
	for _, c := range chunks {
		switch c.Type {
		case provider.ChunkContent:
			sawText = true
			require.Equal(t, "hello", c.Text)
		case provider.ChunkToolCallDelta:
			require.NotNil(t, c.ToolCallDelta)
			if c.ToolCallDelta.ID != "" {
				sawToolStart = true
				require.Equal(t, "lookup", c.ToolCallDelta.Name)
			} else {
				sawToolDelta = true
				require.Equal(t, `:1}`, c.ToolCallDelta.ArgumentsFragment)
			}
		case provider.ChunkUsage:
			sawUsage = true
			require.Equal(t, 10, c.Usage.PromptTokens)
			require.Equal(t, 5, c.Usage.CompletionTokens)
		case provider.ChunkStop:
			sawStop = true
			require.Equal(t, "tool_calls", c.FinishReason)
		}
	}
	require.True(t, sawText)
	require.True(t, sawToolStart)
	require.True(t, sawToolDelta)
	require.True(t, sawUsage)
	require.True(t, sawStop)
}

func TestStreamer_CloseStopsDelivery(t *testing.T) {
	dec := &testDecoder{events: nil}
	stream := ssestream.NewStream[sdk.ChatCompletionChunk](dec, nil)
	s := newStreamer(context.Background(), stream)
	require.NoError(t, s.Close())

	_, err := s.Recv()
	require.Error(t, err)
}
