package openai

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/provider"
)

// emptyDecoder immediately reports end-of-stream, mirroring
// anthropic/stream_test.go's testDecoder with a nil event list.
type emptyDecoder struct{}

func (emptyDecoder) Event() ssestream.Event { return ssestream.Event{} }
func (emptyDecoder) Next() bool             { return false }
func (emptyDecoder) Close() error           { return nil }
func (emptyDecoder) Err() error             { return nil }

type stubChatClient struct {
	lastParams sdk.ChatCompletionNewParams
}

func (s *stubChatClient) NewStreaming(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk] {
	s.lastParams = body
	return ssestream.NewStream[sdk.ChatCompletionChunk](emptyDecoder{}, nil)
}

func TestNew_RequiresClientAndDefaultModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "gpt"})
	require.Error(t, err)

	_, err = New(&stubChatClient{}, Options{})
	require.Error(t, err)
}

func TestAdapter_StreamBuildsParamsFromRequest(t *testing.T) {
	client := &stubChatClient{}
	a, err := New(client, Options{DefaultModel: "gpt-5", MaxTokens: 256})
	require.NoError(t, err)

	req := &provider.Request{
		Messages: []provider.WireMessage{
			{Role: provider.WireSystem, Content: "be terse"},
			{Role: provider.WireUser, Content: "hello"},
		},
		Tools: []provider.ToolDef{{Name: "lookup", Description: "d", Parameters: map[string]any{"type": "object"}}},
	}
	_, err = a.Stream(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, sdk.ChatModel("gpt-5"), client.lastParams.Model)
	require.Len(t, client.lastParams.Messages, 2)
	require.Len(t, client.lastParams.Tools, 1)
	require.Equal(t, int64(256), client.lastParams.MaxCompletionTokens.Value)
}

func TestAdapter_StreamRejectsEmptyMessages(t *testing.T) {
	a, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-5"})
	require.NoError(t, err)

	_, err = a.Stream(context.Background(), &provider.Request{})
	require.Error(t, err)
}

func TestAdapter_StreamRejectsMissingModel(t *testing.T) {
	a, err := New(&stubChatClient{}, Options{DefaultModel: "gpt-5"})
	require.NoError(t, err)
	a.defaultModel = ""

	_, err = a.Stream(context.Background(), &provider.Request{Messages: []provider.WireMessage{{Role: provider.WireUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestEncodeMessages_BuildsAssistantToolCallsAndToolResults(t *testing.T) {
	msgs := []provider.WireMessage{
		{Role: provider.WireUser, Content: "do the thing"},
		{Role: provider.WireAssistant, ToolCalls: []provider.WireToolCall{{ID: "t1", Name: "lookup", Arguments: `{"q":1}`}}},
		{Role: provider.WireTool, ToolCallID: "t1", Content: "result"},
	}
	out, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.NotNil(t, out[1].OfAssistant)
	require.Len(t, out[1].OfAssistant.ToolCalls, 1)
	require.Equal(t, "t1", out[1].OfAssistant.ToolCalls[0].ID)
}

func TestEncodeMessages_RequiresAtLeastOneMessage(t *testing.T) {
	_, err := encodeMessages(nil)
	require.Error(t, err)
}

func TestEncodeTools_SkipsEmptyNamesAndReturnsNilForNoDefs(t *testing.T) {
	out, err := encodeTools(nil)
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = encodeTools([]provider.ToolDef{{Name: "lookup", Description: "d", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "lookup", out[0].Function.Name)
}
