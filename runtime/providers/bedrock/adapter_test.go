package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/provider"
)

func TestNew_RequiresRuntimeAndDefaultModel(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "model-a"})
	require.Error(t, err)

	_, err = New(fakeRuntime{}, Options{})
	require.Error(t, err)
}

type fakeRuntime struct {
	err error
}

func (f fakeRuntime) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, f.err
}

func TestAdapter_StreamRejectsEmptyMessages(t *testing.T) {
	a, err := New(fakeRuntime{}, Options{DefaultModel: "model-a"})
	require.NoError(t, err)

	_, err = a.Stream(context.Background(), &provider.Request{})
	require.Error(t, err)
}

func TestEncodeMessages_SplitsSystemAndMergesToolBlocks(t *testing.T) {
	msgs := []provider.WireMessage{
		{Role: provider.WireSystem, Content: "be terse"},
		{Role: provider.WireUser, Content: "do the thing"},
		{Role: provider.WireAssistant, ToolCalls: []provider.WireToolCall{{ID: "t1", Name: "lookup", Arguments: `{"q":1}`}}},
		{Role: provider.WireTool, ToolCallID: "t1", Content: "result"},
	}
	conv, system, err := encodeMessages(msgs)
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Len(t, conv, 3)
}

func TestEncodeMessages_RequiresAtLeastOneMessage(t *testing.T) {
	_, _, err := encodeMessages(nil)
	require.Error(t, err)
}

func TestEncodeTools_SkipsEmptyNamesAndReturnsNilForNoDefs(t *testing.T) {
	cfg, err := encodeTools(nil)
	require.NoError(t, err)
	require.Nil(t, cfg)

	cfg, err = encodeTools([]provider.ToolDef{{Name: "lookup", Description: "d", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.Tools, 1)
}
