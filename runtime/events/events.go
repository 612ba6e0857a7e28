// Package events defines the EventEnvelope wire format and the full event
// catalog (§3, §6) that the Session Orchestrator, Stream Aggregator, and
// Tool Dispatcher publish to a session's broadcast bus. Grounded on goa-ai's
// runtime/agent/stream package (a typed Event union with a Base carrying
// RunID/SessionID/Payload) and runtime/agent/hooks (the internal bus that
// feeds it) — generalized to the spec's chat_id/seq envelope and full
// snake_case tag catalog.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chatcore/engine/runtime/message"
)

// Type is the wire-level snake_case event tag (§6).
type Type string

const (
	TypeSnapshot          Type = "snapshot"
	TypeThreadUpdated     Type = "thread_updated"
	TypeRuntimeUpdated    Type = "runtime_updated"
	TypeTitleUpdated      Type = "title_updated"
	TypeMessageAdded      Type = "message_added"
	TypeMessageUpdated    Type = "message_updated"
	TypeMessageRemoved    Type = "message_removed"
	TypeMessagesTruncated Type = "messages_truncated"
	TypeStreamStarted     Type = "stream_started"
	TypeStreamDelta       Type = "stream_delta"
	TypeStreamFinished    Type = "stream_finished"
	TypePauseRequired     Type = "pause_required"
	TypePauseCleared      Type = "pause_cleared"
	TypeIdeToolRequired   Type = "ide_tool_required"
	TypeSubchatUpdate     Type = "subchat_update"
	TypeAck               Type = "ack"
)

// Event is implemented by every concrete payload publishable on a session's
// bus. Type returns the wire tag used for both JSON discrimination and
// subscriber filtering.
type Event interface {
	Type() Type
}

// RuntimeState is the wire projection of the orchestrator's state machine
// (§3 RuntimeState).
type RuntimeState string

const (
	StateIdle           RuntimeState = "Idle"
	StateGenerating      RuntimeState = "Generating"
	StateExecutingTools RuntimeState = "ExecutingTools"
	StatePaused          RuntimeState = "Paused"
	StateWaitingIde      RuntimeState = "WaitingIde"
	StateError           RuntimeState = "Error"
)

// PauseReason describes one confirmation/ide gate blocking tool dispatch.
type PauseReason struct {
	Type              string `json:"type"`
	Command           string `json:"command"`
	Rule              string `json:"rule"`
	ToolCallID        string `json:"tool_call_id"`
	IntegrConfigPath  string `json:"integr_config_path,omitempty"`
}

// DeltaOpKind discriminates a DeltaOp (§3).
type DeltaOpKind string

const (
	OpAppendContent     DeltaOpKind = "append_content"
	OpAppendReasoning   DeltaOpKind = "append_reasoning"
	OpSetToolCalls      DeltaOpKind = "set_tool_calls"
	OpSetThinkingBlocks DeltaOpKind = "set_thinking_blocks"
	OpAddCitation       DeltaOpKind = "add_citation"
	OpSetUsage          DeltaOpKind = "set_usage"
	OpMergeExtra        DeltaOpKind = "merge_extra"
)

// DeltaOp is one atomic Stream Aggregator fold step (§3).
type DeltaOp struct {
	Kind DeltaOpKind `json:"kind"`

	Text          string                  `json:"text,omitempty"`
	ToolCalls     []message.ToolCall      `json:"tool_calls,omitempty"`
	ThinkingBlocks []message.ThinkingBlock `json:"thinking_blocks,omitempty"`
	Citation      any                     `json:"citation,omitempty"`
	Usage         *message.Usage          `json:"usage,omitempty"`
	Extra         map[string]any          `json:"extra,omitempty"`
}

type (
	// Snapshot carries a full point-in-time view for a reconnecting
	// subscriber (§4.8 idempotency/recovery).
	Snapshot struct {
		Messages []*message.ChatMessage `json:"messages"`
		Runtime  RuntimeSnapshot        `json:"runtime"`
	}

	// RuntimeSnapshot is the wire projection of RuntimeState (§3).
	RuntimeSnapshot struct {
		State        RuntimeState  `json:"state"`
		Paused       bool          `json:"paused"`
		Error        string        `json:"error,omitempty"`
		QueueSize    int           `json:"queue_size"`
		PauseReasons []PauseReason `json:"pause_reasons,omitempty"`
	}

	ThreadUpdated struct {
		Title string `json:"title"`
		Model string `json:"model"`
		Mode  string `json:"mode"`
	}

	RuntimeUpdated struct {
		Runtime RuntimeSnapshot `json:"runtime"`
	}

	TitleUpdated struct {
		Title          string `json:"title"`
		IsTitleGenerated bool `json:"is_title_generated"`
	}

	MessageAdded struct {
		Message *message.ChatMessage `json:"message"`
	}

	MessageUpdated struct {
		Message *message.ChatMessage `json:"message"`
	}

	MessageRemoved struct {
		MessageID string `json:"message_id"`
	}

	MessagesTruncated struct {
		FromIndex int `json:"from_index"`
	}

	StreamStarted struct {
		MessageID string `json:"message_id"`
	}

	StreamDelta struct {
		MessageID string    `json:"message_id"`
		Ops       []DeltaOp `json:"ops"`
	}

	StreamFinished struct {
		MessageID    string `json:"message_id"`
		FinishReason string `json:"finish_reason"`
		Error        string `json:"error,omitempty"`
	}

	PauseRequired struct {
		Reasons []PauseReason `json:"reasons"`
	}

	PauseCleared struct{}

	IdeToolRequired struct {
		ToolCallID string         `json:"tool_call_id"`
		ToolName   string         `json:"tool_name"`
		Args       map[string]any `json:"args"`
	}

	SubchatUpdate struct {
		SubchatID string               `json:"subchat_id"`
		Message   *message.ChatMessage `json:"message"`
	}

	Ack struct {
		ClientRequestID string `json:"client_request_id"`
	}
)

func (Snapshot) Type() Type          { return TypeSnapshot }
func (ThreadUpdated) Type() Type     { return TypeThreadUpdated }
func (RuntimeUpdated) Type() Type    { return TypeRuntimeUpdated }
func (TitleUpdated) Type() Type      { return TypeTitleUpdated }
func (MessageAdded) Type() Type      { return TypeMessageAdded }
func (MessageUpdated) Type() Type    { return TypeMessageUpdated }
func (MessageRemoved) Type() Type    { return TypeMessageRemoved }
func (MessagesTruncated) Type() Type { return TypeMessagesTruncated }
func (StreamStarted) Type() Type     { return TypeStreamStarted }
func (StreamDelta) Type() Type       { return TypeStreamDelta }
func (StreamFinished) Type() Type    { return TypeStreamFinished }
func (PauseRequired) Type() Type     { return TypePauseRequired }
func (PauseCleared) Type() Type      { return TypePauseCleared }
func (IdeToolRequired) Type() Type   { return TypeIdeToolRequired }
func (SubchatUpdate) Type() Type     { return TypeSubchatUpdate }
func (Ack) Type() Type               { return TypeAck }

// Envelope is the wire-level container every published event travels in.
// Seq always serializes as a decimal JSON string to survive 53-bit JSON
// integer limits (§3, §6, testable property / S6).
type Envelope struct {
	ChatID string
	Seq    uint64
	Event  Event
}

// MarshalJSON renders {"chat_id","seq","type", ...event fields}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["chat_id"] = mustJSON(e.ChatID)
	fields["seq"] = mustJSON(strconv.FormatUint(e.Seq, 10))
	fields["type"] = mustJSON(e.Event.Type())
	return json.Marshal(fields)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// UnmarshalJSON parses an envelope previously produced by MarshalJSON. The
// concrete Event type is resolved from the "type" tag; Seq must be a decimal
// string (a bare JSON number fails, per S6).
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		ChatID string `json:"chat_id"`
		Seq    string `json:"seq"`
		Type   Type   `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	seq, err := strconv.ParseUint(head.Seq, 10, 64)
	if err != nil {
		return fmt.Errorf("seq must be a decimal string: %w", err)
	}
	ev, err := decodeEvent(head.Type, data)
	if err != nil {
		return err
	}
	e.ChatID = head.ChatID
	e.Seq = seq
	e.Event = ev
	return nil
}

func decodeEvent(t Type, data []byte) (Event, error) {
	var ev Event
	switch t {
	case TypeSnapshot:
		ev = &Snapshot{}
	case TypeThreadUpdated:
		ev = &ThreadUpdated{}
	case TypeRuntimeUpdated:
		ev = &RuntimeUpdated{}
	case TypeTitleUpdated:
		ev = &TitleUpdated{}
	case TypeMessageAdded:
		ev = &MessageAdded{}
	case TypeMessageUpdated:
		ev = &MessageUpdated{}
	case TypeMessageRemoved:
		ev = &MessageRemoved{}
	case TypeMessagesTruncated:
		ev = &MessagesTruncated{}
	case TypeStreamStarted:
		ev = &StreamStarted{}
	case TypeStreamDelta:
		ev = &StreamDelta{}
	case TypeStreamFinished:
		ev = &StreamFinished{}
	case TypePauseRequired:
		ev = &PauseRequired{}
	case TypePauseCleared:
		ev = &PauseCleared{}
	case TypeIdeToolRequired:
		ev = &IdeToolRequired{}
	case TypeSubchatUpdate:
		ev = &SubchatUpdate{}
	case TypeAck:
		ev = &Ack{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	// deref to value-typed Event so (de)serialized instances behave like the
	// ones MarshalJSON was given.
	return derefEvent(ev), nil
}

func derefEvent(ev Event) Event {
	switch v := ev.(type) {
	case *Snapshot:
		return *v
	case *ThreadUpdated:
		return *v
	case *RuntimeUpdated:
		return *v
	case *TitleUpdated:
		return *v
	case *MessageAdded:
		return *v
	case *MessageUpdated:
		return *v
	case *MessageRemoved:
		return *v
	case *MessagesTruncated:
		return *v
	case *StreamStarted:
		return *v
	case *StreamDelta:
		return *v
	case *StreamFinished:
		return *v
	case *PauseRequired:
		return *v
	case *PauseCleared:
		return *v
	case *IdeToolRequired:
		return *v
	case *SubchatUpdate:
		return *v
	case *Ack:
		return *v
	default:
		return ev
	}
}
