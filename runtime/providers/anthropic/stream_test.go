package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/provider"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream,
// mirroring features/model/anthropic/stream_test.go's testDecoder.
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

func unmarshalEvent(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestStreamer_TextAndToolCallAndUsage(t *testing.T) {
	textDelta := unmarshalEvent(t, `{
		"type": "content_block_delta", "index": 0,
		"delta": {"type": "text_delta", "text": "hello"}
	}`)
	toolStart := unmarshalEvent(t, `{
		"type": "content_block_start", "index": 1,
		"content_block": {"type": "tool_use", "id": "t1", "name": "lookup"}
	}`)
	toolDelta := unmarshalEvent(t, `{
		"type": "content_block_delta", "index": 1,
		"delta": {"type": "input_json_delta", "partial_json": "{\"x\":1}"}
	}`)
	toolStop := unmarshalEvent(t, `{"type": "content_block_stop", "index": 1}`)
	msgDelta := unmarshalEvent(t, `{
		"type": "message_delta",
		"delta": {"stop_reason": "tool_use"},
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)
	stop := unmarshalEvent(t, `{"type": "message_stop"}`)

	events := []ssestream.Event{
		{Type: "content_block_delta", Data: mustJSON(t, textDelta)},
		{Type: "content_block_start", Data: mustJSON(t, toolStart)},
		{Type: "content_block_delta", Data: mustJSON(t, toolDelta)},
		{Type: "content_block_stop", Data: mustJSON(t, toolStop)},
		{Type: "message_delta", Data: mustJSON(t, msgDelta)},
		{Type: "message_stop", Data: mustJSON(t, stop)},
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
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
				require.Equal(t, `{"x":1}`, c.ToolCallDelta.ArgumentsFragment)
			}
		case provider.ChunkUsage:
			sawUsage = true
			require.Equal(t, 10, c.Usage.PromptTokens)
			require.Equal(t, 5, c.Usage.CompletionTokens)
		case provider.ChunkStop:
			sawStop = true
			require.Equal(t, "tool_use", c.FinishReason)
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
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	s := newStreamer(context.Background(), stream)
	require.NoError(t, s.Close())

	_, err := s.Recv()
	require.Error(t, err)
}
