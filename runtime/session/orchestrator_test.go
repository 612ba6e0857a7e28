package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/tools"
)

// fakePreparer returns the canned request at index min(call count, len-1),
// or the configured error, recording how many times it was invoked.
type fakePreparer struct {
	mu    sync.Mutex
	calls int
	reqs  []*provider.Request
	err   error
}

func (p *fakePreparer) Prepare(context.Context, PrepareInput) (*provider.Request, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls
	if idx >= len(p.reqs) {
		idx = len(p.reqs) - 1
	}
	p.calls++
	return p.reqs[idx], nil
}

// fakeStream replays a fixed chunk list then io.EOF, or blocks until ctx is
// canceled if block is set (used for the Abort-during-Generating test).
type fakeStream struct {
	chunks []provider.Chunk
	idx    int
	block  <-chan struct{}
}

func (s *fakeStream) Recv() (provider.Chunk, error) {
	if s.block != nil {
		<-s.block
		return provider.Chunk{}, io.EOF
	}
	if s.idx >= len(s.chunks) {
		return provider.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeAdapter returns a fresh fakeStream built by streams[call count], so a
// test can script a different reply per turn (e.g. tool call then no tool
// call).
type fakeAdapter struct {
	mu      sync.Mutex
	calls   int
	streams []*fakeStream
}

func (a *fakeAdapter) Stream(context.Context, *provider.Request) (provider.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.calls
	if idx >= len(a.streams) {
		idx = len(a.streams) - 1
	}
	a.calls++
	return a.streams[idx], nil
}

// fakeTool is a minimal tools.Tool for exercising Dispatch/ResumeDecision
// from inside the orchestrator.
type fakeTool struct {
	name    string
	match   tools.MatchResult
	result  tools.ExecuteResult
	execErr error
	ide     bool
}

func (t fakeTool) Description() tools.Description {
	return tools.Description{Name: t.name, Description: "fake"}
}
func (t fakeTool) DependsOn() []string { return nil }
func (t fakeTool) MatchAgainstConfirmDeny(map[string]any) tools.MatchResult {
	if t.match.Decision == "" {
		return tools.MatchResult{Decision: tools.Pass}
	}
	return t.match
}
func (t fakeTool) CommandToMatchAgainstConfirmDeny(map[string]any) string { return "" }
func (t fakeTool) Execute(context.Context, string, map[string]any) (tools.ExecuteResult, error) {
	return t.result, t.execErr
}
func (t fakeTool) RequiresIde(map[string]any) bool { return t.ide }

func newTestSession(t *testing.T, preparer Preparer, adapter provider.Adapter, reg *tools.Registry) (*Session, <-chan events.Envelope) {
	t.Helper()
	bus := events.NewBus()
	sub, unsub := bus.Subscribe()
	t.Cleanup(unsub)
	thread := New("chat-1", "gpt-test", ModeAgent)
	s := NewSession(thread, bus, preparer, adapter, reg, PrepareOptions{})
	return s, sub
}

func waitForState(t *testing.T, sub <-chan events.Envelope, want events.RuntimeState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-sub:
			if ru, ok := env.Event.(events.RuntimeUpdated); ok && ru.Runtime.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func assistantReq() *provider.Request {
	return &provider.Request{Model: "gpt-test"}
}

func TestSession_UserMessage_NoToolCalls_GoesIdle(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{{chunks: []provider.Chunk{
		{Type: provider.ChunkContent, Text: "hello"},
		{Type: provider.ChunkStop, FinishReason: "stop"},
	}}}}
	s, sub := newTestSession(t, preparer, adapter, tools.NewRegistry())

	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "hi")}}))

	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
	require.Equal(t, message.RoleUser, snap.Messages[0].Role)
	require.Equal(t, message.RoleAssistant, snap.Messages[1].Role)
	require.Equal(t, "hello", snap.Messages[1].Text)
}

func TestSession_ToolCall_AutoRetriggersThenIdle(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq(), assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{
		{chunks: []provider.Chunk{
			{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: "tc1", Name: "read_file", ArgumentsFragment: `{"path":"a.go"}`}},
			{Type: provider.ChunkStop, FinishReason: "tool_calls"},
		}},
		{chunks: []provider.Chunk{
			{Type: provider.ChunkContent, Text: "done"},
			{Type: provider.ChunkStop, FinishReason: "stop"},
		}},
	}}

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(fakeTool{name: "read_file", result: tools.ExecuteResult{
		Messages: []*message.ChatMessage{message.New(message.RoleTool, "contents")},
	}}))

	s, sub := newTestSession(t, preparer, adapter, reg)
	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "read it")}}))

	waitForState(t, sub, events.StateExecutingTools)
	waitForState(t, sub, events.StateGenerating)
	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	var sawToolResult, sawSecondAssistant bool
	for _, m := range snap.Messages {
		if m.Role == message.RoleTool && m.Text == "contents" {
			sawToolResult = true
		}
		if m.Role == message.RoleAssistant && m.Text == "done" {
			sawSecondAssistant = true
		}
	}
	require.True(t, sawToolResult)
	require.True(t, sawSecondAssistant)
}

func TestSession_ConfirmationPause_AcceptedResumes(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq(), assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{
		{chunks: []provider.Chunk{
			{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: "tc1", Name: "danger", ArgumentsFragment: `{}`}},
			{Type: provider.ChunkStop, FinishReason: "tool_calls"},
		}},
		{chunks: []provider.Chunk{
			{Type: provider.ChunkContent, Text: "done"},
			{Type: provider.ChunkStop, FinishReason: "stop"},
		}},
	}}

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(fakeTool{
		name:   "danger",
		match:  tools.MatchResult{Decision: tools.Confirmation, Rule: "needs-confirm", Command: "danger"},
		result: tools.ExecuteResult{Messages: []*message.ChatMessage{message.New(message.RoleTool, "ran")}},
	}))

	s, sub := newTestSession(t, preparer, adapter, reg)
	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "do it")}}))

	waitForState(t, sub, events.StatePaused)

	s.mu.Lock()
	require.Len(t, s.pendingCalls, 1)
	require.Equal(t, "tc1", s.pendingCalls[0].ID)
	s.mu.Unlock()

	require.NoError(t, s.Submit(CommandRequest{Command: ToolDecision{ToolCallID: "tc1", Accepted: true}}))

	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	var sawRan bool
	for _, m := range snap.Messages {
		if m.Text == "ran" {
			sawRan = true
		}
	}
	require.True(t, sawRan)
}

func TestSession_ConfirmationPause_DeniedStillResumesTurn(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq(), assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{
		{chunks: []provider.Chunk{
			{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: "tc1", Name: "danger", ArgumentsFragment: `{}`}},
			{Type: provider.ChunkStop, FinishReason: "tool_calls"},
		}},
		{chunks: []provider.Chunk{
			{Type: provider.ChunkContent, Text: "ok"},
			{Type: provider.ChunkStop, FinishReason: "stop"},
		}},
	}}

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(fakeTool{
		name:  "danger",
		match: tools.MatchResult{Decision: tools.Confirmation, Rule: "needs-confirm", Command: "danger"},
	}))

	s, sub := newTestSession(t, preparer, adapter, reg)
	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "do it")}}))

	waitForState(t, sub, events.StatePaused)
	require.NoError(t, s.Submit(CommandRequest{Command: ToolDecision{ToolCallID: "tc1", Accepted: false}}))
	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	var sawDenied bool
	for _, m := range snap.Messages {
		if m.Role == message.RoleTool && m.ToolFailed != nil && *m.ToolFailed {
			sawDenied = true
		}
	}
	require.True(t, sawDenied)
}

func TestSession_IdeToolRequired_ResolvedByIdeToolResult(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq(), assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{
		{chunks: []provider.Chunk{
			{Type: provider.ChunkToolCallDelta, ToolCallDelta: &provider.ToolCallDelta{Index: 0, ID: "tc1", Name: "open_editor", ArgumentsFragment: `{}`}},
			{Type: provider.ChunkStop, FinishReason: "tool_calls"},
		}},
		{chunks: []provider.Chunk{
			{Type: provider.ChunkContent, Text: "ok"},
			{Type: provider.ChunkStop, FinishReason: "stop"},
		}},
	}}

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(fakeTool{name: "open_editor", ide: true}))

	s, sub := newTestSession(t, preparer, adapter, reg)
	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "open it")}}))

	waitForState(t, sub, events.StateWaitingIde)
	require.NoError(t, s.Submit(CommandRequest{Command: IdeToolResult{ToolCallID: "tc1", Text: "opened"}}))

	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	var sawOpened bool
	for _, m := range snap.Messages {
		if m.Text == "opened" {
			sawOpened = true
		}
	}
	require.True(t, sawOpened)
}

func TestSession_Abort_DuringGenerating_GoesIdle(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{{block: block}}}
	s, sub := newTestSession(t, preparer, adapter, tools.NewRegistry())

	require.NoError(t, s.Submit(CommandRequest{Command: UserMessage{Message: message.New(message.RoleUser, "hi")}}))
	waitForState(t, sub, events.StateGenerating)

	require.NoError(t, s.Submit(CommandRequest{Command: Abort{}}))
	waitForState(t, sub, events.StateIdle)
}

func TestSession_SetParams_UpdateMessage_RemoveMessage_NeverStartATurn(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{err: errAssertTurnNeverStarts}
	adapter := &fakeAdapter{}
	s, _ := newTestSession(t, preparer, adapter, tools.NewRegistry())

	msg := message.New(message.RoleUser, "hello")
	require.True(t, s.appendMessage(msg))

	title := "renamed"
	require.NoError(t, s.Submit(CommandRequest{Command: SetParams{Thread: ThreadPatch{Title: &title}}}))
	require.NoError(t, s.Submit(CommandRequest{Command: UpdateMessage{MessageID: msg.MessageID, Text: "edited"}}))
	require.NoError(t, s.Submit(CommandRequest{Command: RemoveMessage{MessageID: msg.MessageID}}))

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.queueProcessorRunning && len(s.commandQueue) == 0
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	require.Equal(t, "renamed", s.thread.Title)
	require.Equal(t, events.StateIdle, s.state)
	s.mu.Unlock()

	require.Equal(t, 0, s.ledger.Len())
}

// errAssertTurnNeverStarts is returned by a Preparer that must never be
// invoked in a test; if it is, the resulting fail() transition is easy to
// spot as a bug in the test itself rather than a silent pass.
var errAssertTurnNeverStarts = &neverCalledError{}

type neverCalledError struct{}

func (*neverCalledError) Error() string { return "preparer should never be called for this command" }

func TestSession_ClientRequestIDDedup_SecondSubmitIsNoop(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq()}}
	adapter := &fakeAdapter{streams: []*fakeStream{{chunks: []provider.Chunk{
		{Type: provider.ChunkContent, Text: "hi"},
		{Type: provider.ChunkStop, FinishReason: "stop"},
	}}}}
	s, sub := newTestSession(t, preparer, adapter, tools.NewRegistry())

	req := CommandRequest{ClientRequestID: "req-1", Command: UserMessage{Message: message.New(message.RoleUser, "hello")}}
	require.NoError(t, s.Submit(req))
	require.NoError(t, s.Submit(req))

	waitForState(t, sub, events.StateIdle)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 2)
}

func TestSession_Submit_RejectsPastQueueLimit(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq()}}
	adapter := &fakeAdapter{}
	s, _ := newTestSession(t, preparer, adapter, tools.NewRegistry())

	s.mu.Lock()
	for i := 0; i < MaxQueueSize; i++ {
		s.commandQueue = append(s.commandQueue, CommandRequest{Command: SetParams{}})
	}
	s.queueProcessorRunning = true // pin the fake backlog in place; no consumer drains it in this test
	s.mu.Unlock()

	err := s.Submit(CommandRequest{Command: SetParams{}})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.QueueFull))
}

func TestSession_SubmitAfterClose_Fails(t *testing.T) {
	t.Parallel()

	preparer := &fakePreparer{reqs: []*provider.Request{assistantReq()}}
	adapter := &fakeAdapter{}
	s, _ := newTestSession(t, preparer, adapter, tools.NewRegistry())
	s.Close()

	err := s.Submit(CommandRequest{Command: SetParams{}})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.SessionClosed))
}
