package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
)

type recordingBus struct {
	events []events.Event
}

func (b *recordingBus) Publish(_ string, ev events.Event) events.Envelope {
	b.events = append(b.events, ev)
	return events.Envelope{Event: ev}
}

func call(id, name, argsJSON string) message.ToolCall {
	return message.ToolCall{ID: id, Name: name, Arguments: argsJSON, ToolType: message.ToolTypeFunction}
}

func TestDispatch_UnknownToolProducesFailedToolMessage(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	bus := &recordingBus{}
	out := Dispatch(context.Background(), reg, bus, nil, "chat-1", []message.ToolCall{call("tc1", "ghost", "{}")})

	require.Len(t, out.Added, 1)
	require.Equal(t, "tc1", out.Added[0].ToolCallID)
	require.True(t, *out.Added[0].ToolFailed)
	require.True(t, out.Retrigger)
}

func TestDispatch_DenyProducesSyntheticFailureAndContinues(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{
		desc:  basicDesc("rm"),
		match: MatchResult{Decision: Deny, Rule: "no-rm"},
	}))
	require.NoError(t, reg.Register(stubTool{desc: basicDesc("ls")}))

	bus := &recordingBus{}
	calls := []message.ToolCall{call("tc1", "rm", `{"path":"x"}`), call("tc2", "ls", `{"path":"x"}`)}
	out := Dispatch(context.Background(), reg, bus, nil, "chat-1", calls)

	require.Len(t, out.Added, 2)
	require.True(t, *out.Added[0].ToolFailed)
	require.Contains(t, out.Added[0].Text, "no-rm")
	require.False(t, *out.Added[1].ToolFailed)
}

func TestDispatch_ConfirmationPausesRemainingCalls(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{
		desc:  basicDesc("danger"),
		match: MatchResult{Decision: Confirmation, Rule: "needs-confirm", Command: "danger x"},
	}))
	require.NoError(t, reg.Register(stubTool{desc: basicDesc("safe")}))

	bus := &recordingBus{}
	calls := []message.ToolCall{call("tc1", "danger", `{"path":"x"}`), call("tc2", "safe", `{"path":"x"}`)}
	out := Dispatch(context.Background(), reg, bus, nil, "chat-1", calls)

	require.Empty(t, out.Added)
	require.True(t, out.Paused)
	require.False(t, out.Retrigger)
	require.Len(t, out.PendingCalls, 2)
	require.Equal(t, "tc1", out.PendingCalls[0].ID)
	require.Equal(t, "tc2", out.PendingCalls[1].ID)
	require.Len(t, out.PauseReasons, 1)
	require.Equal(t, "tc1", out.PauseReasons[0].ToolCallID)

	var found bool
	for _, ev := range bus.events {
		if pr, ok := ev.(events.PauseRequired); ok {
			found = true
			require.Len(t, pr.Reasons, 1)
			require.Equal(t, "tc1", pr.Reasons[0].ToolCallID)
		}
	}
	require.True(t, found, "expected a PauseRequired event")
}

func TestDispatch_ExecutesAllowedCallsInOrderAndAppendsContextFiles(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{
		desc: basicDesc("read_file"),
		execResult: ExecuteResult{
			Dirty:    false,
			Messages: []*message.ChatMessage{message.New(message.RoleTool, "contents")},
			Files:    []ContextFile{{Path: "a.go", Content: "package a"}},
		},
	}))

	bus := &recordingBus{}
	out := Dispatch(context.Background(), reg, bus, nil, "chat-1", []message.ToolCall{call("tc1", "read_file", `{"path":"a.go"}`)})

	require.Len(t, out.Added, 2)
	require.Equal(t, message.RoleTool, out.Added[0].Role)
	require.Equal(t, message.RoleContextFile, out.Added[1].Role)
	require.True(t, out.Retrigger)
}

func TestDispatch_ContextCancelAbortsRemainingCalls(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{desc: basicDesc("slow")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.Sleep(time.Millisecond)

	bus := &recordingBus{}
	out := Dispatch(ctx, reg, bus, nil, "chat-1", []message.ToolCall{call("tc1", "slow", `{"path":"x"}`)})

	require.Len(t, out.Added, 1)
	require.True(t, *out.Added[0].ToolFailed)
	require.Contains(t, out.Added[0].Text, "aborted")
}

type fakeIde struct {
	result ExecuteResult
	err    error
}

func (f fakeIde) RunIdeTool(context.Context, string, string, map[string]any) (ExecuteResult, error) {
	return f.result, f.err
}

type ideStub struct{ stubTool }

func (ideStub) RequiresIde(map[string]any) bool { return true }

func TestDispatch_IdeToolRequestsIdeCooperation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(ideStub{stubTool{desc: basicDesc("open_editor")}}))

	bus := &recordingBus{}
	ide := fakeIde{result: ExecuteResult{Messages: []*message.ChatMessage{message.New(message.RoleTool, "opened")}}}
	out := Dispatch(context.Background(), reg, bus, ide, "chat-1", []message.ToolCall{call("tc1", "open_editor", `{"path":"x"}`)})

	require.Len(t, out.Added, 1)
	require.Equal(t, "opened", out.Added[0].Text)

	var sawIdeRequired bool
	for _, ev := range bus.events {
		if _, ok := ev.(events.IdeToolRequired); ok {
			sawIdeRequired = true
		}
	}
	require.True(t, sawIdeRequired)
}

func TestResumeDecision_DeniedProducesSyntheticFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{desc: basicDesc("danger")}))

	bus := &recordingBus{}
	out := ResumeDecision(context.Background(), reg, bus, nil, "chat-1", call("tc1", "danger", `{}`), false)

	require.Len(t, out.Added, 1)
	require.True(t, *out.Added[0].ToolFailed)
	require.Contains(t, out.Added[0].Text, "denied by operator")
	require.True(t, out.Retrigger)
}

func TestResumeDecision_AcceptedExecutesWithoutReCheckingPolicy(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(stubTool{
		desc:  basicDesc("danger"),
		match: MatchResult{Decision: Confirmation, Rule: "needs-confirm"},
		execResult: ExecuteResult{
			Messages: []*message.ChatMessage{message.New(message.RoleTool, "done")},
		},
	}))

	bus := &recordingBus{}
	out := ResumeDecision(context.Background(), reg, bus, nil, "chat-1", call("tc1", "danger", `{}`), true)

	require.Len(t, out.Added, 1)
	require.Equal(t, "done", out.Added[0].Text)
	require.False(t, *out.Added[0].ToolFailed)
	require.True(t, out.Retrigger)
}

func TestDispatch_IdeToolWithoutGatewayFailsGracefully(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(ideStub{stubTool{desc: basicDesc("open_editor")}}))

	bus := &recordingBus{}
	out := Dispatch(context.Background(), reg, bus, nil, "chat-1", []message.ToolCall{call("tc1", "open_editor", `{"path":"x"}`)})

	require.Len(t, out.Added, 1)
	require.True(t, *out.Added[0].ToolFailed)
}
