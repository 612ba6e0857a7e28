package session

import "github.com/chatcore/engine/runtime/message"

// Command is implemented by every concrete command payload a client can
// submit to a session (§4.8 CommandRequest, §6 command wire tags).
type Command interface {
	commandTag() string
}

// CommandRequest is the envelope every Submit call carries: ClientRequestID
// is checked against the session's bounded recent-set so a re-sent request
// (e.g. after a dropped acknowledgement) is a no-op rather than a second
// turn.
type CommandRequest struct {
	ClientRequestID string
	Command         Command
}

type (
	// UserMessage appends msg and starts a turn (Idle -> Generating).
	UserMessage struct {
		Message *message.ChatMessage
	}

	// RetryFromIndex truncates the transcript back to Index and starts a
	// fresh turn from there (Idle -> Generating).
	RetryFromIndex struct {
		Index int
	}

	// SetParams merges a partial thread/sampling configuration update.
	// Applying it never starts a turn.
	SetParams struct {
		Thread   ThreadPatch
		Sampling *SamplingParameters
	}

	// Abort cancels the active turn's context, short-circuiting whatever turn is
	// active regardless of queue position (handled out of band by Submit,
	// not queued).
	Abort struct{}

	// ToolDecision resolves one pending confirmation gate.
	ToolDecision struct {
		ToolCallID string
		Accepted   bool
	}

	// ToolDecisions resolves a batch of pending confirmation gates in order.
	ToolDecisions struct {
		Decisions []ToolDecision
	}

	// IdeToolResult delivers the outcome of an IdeToolRequired call back to
	// the session (handled out of band by Submit, since the orchestrator's
	// queue consumer is itself blocked waiting for it while WaitingIde).
	IdeToolResult struct {
		ToolCallID string
		Text       string
		Failed     bool
	}

	// UpdateMessage edits the text of an existing transcript entry.
	UpdateMessage struct {
		MessageID string
		Text      string
	}

	// RemoveMessage deletes a transcript entry by id.
	RemoveMessage struct {
		MessageID string
	}
)

// ThreadPatch carries only the fields a SetParams command wants to change;
// a nil field leaves the corresponding ThreadParams field untouched.
type ThreadPatch struct {
	Title              *string
	Model              *string
	Mode               *Mode
	ToolUse            *bool
	BoostReasoning     *bool
	ContextTokensCap   *int
	IncludeProjectInfo *bool
	UseCompression     *bool
}

func (t ThreadPatch) apply(p *ThreadParams) {
	if t.Title != nil {
		p.Title = *t.Title
	}
	if t.Model != nil {
		p.Model = *t.Model
	}
	if t.Mode != nil {
		p.Mode = *t.Mode
	}
	if t.ToolUse != nil {
		p.ToolUse = *t.ToolUse
	}
	if t.BoostReasoning != nil {
		p.BoostReasoning = *t.BoostReasoning
	}
	if t.ContextTokensCap != nil {
		p.ContextTokensCap = *t.ContextTokensCap
	}
	if t.IncludeProjectInfo != nil {
		p.IncludeProjectInfo = *t.IncludeProjectInfo
	}
	if t.UseCompression != nil {
		p.UseCompression = *t.UseCompression
	}
}

func (UserMessage) commandTag() string    { return "user_message" }
func (RetryFromIndex) commandTag() string { return "retry_from_index" }
func (SetParams) commandTag() string      { return "set_params" }
func (Abort) commandTag() string          { return "abort" }
func (ToolDecision) commandTag() string   { return "tool_decision" }
func (ToolDecisions) commandTag() string  { return "tool_decisions" }
func (IdeToolResult) commandTag() string  { return "ide_tool_result" }
func (UpdateMessage) commandTag() string  { return "update_message" }
func (RemoveMessage) commandTag() string  { return "remove_message" }
