// Package message implements the canonical transcript entity shared by every
// component of the chat session engine: the Tokenizer Facade counts its text,
// the History Budgeter trims lists of it, the Prompt Preparer converts it to
// provider wire form, and the Stream Aggregator folds provider deltas into
// fresh instances of it.
//
// Grounded on goa-ai's runtime/agent/model (typed Part union, JSON round-trip
// via MarshalJSON/UnmarshalJSON discriminators) and runtime/agent/transcript
// (an ordered, provider-precise ledger of messages). ChatMessage generalizes
// both: it adds the roles (tool, diff, context_file, plain_text,
// cd_instruction) and curated extra-metadata rules spec.md requires that
// neither teacher package models on its own.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the originator/kind of a ChatMessage.
type Role string

const (
	RoleSystem      Role = "system"
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleTool        Role = "tool"
	RoleDiff        Role = "diff"
	RoleContextFile Role = "context_file"
	RolePlainText   Role = "plain_text"
	RoleCDInstr     Role = "cd_instruction"
)

// FinishReason enumerates terminal codes a provider may report for an
// assistant turn. An empty string means the turn is unfinished.
type FinishReason string

const (
	FinishStop           FinishReason = "stop"
	FinishLength         FinishReason = "length"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishScratchpadStop FinishReason = "scratchpad-stop"
	FinishAbort          FinishReason = "abort"
)

// curatedExtraPrefixes lists the key prefixes MergeExtra accepts into the
// Extra bag. Anything else (including attempts to inject core field names
// such as "role" or "content") is dropped silently, matching goa-ai's
// toolregistry metering key allowlist pattern.
var curatedExtraPrefixes = []string{"metering_", "billing_", "cost_", "cache_"}

var curatedExtraExact = map[string]bool{
	"system_fingerprint":       true,
	"provider_specific_fields": true,
}

// IsCuratedExtraKey reports whether key is allowed into a ChatMessage's Extra
// map under the reserved-metadata-key rules of the data model.
func IsCuratedExtraKey(key string) bool {
	if curatedExtraExact[key] {
		return true
	}
	for _, p := range curatedExtraPrefixes {
		if len(key) > len(p) && key[:len(p)] == p {
			return true
		}
	}
	return false
}

// Element is one fragment of multimodal message content.
type Element struct {
	MIMEType string `json:"mime_type"`
	Text     string `json:"text,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
}

// ToolType identifies the calling convention of a ToolCall (the teacher's
// tools.Ident plays an analogous discriminator role for registered tools).
type ToolType string

// ToolTypeFunction is the default, and currently only well-known, tool type.
const ToolTypeFunction ToolType = "function"

// ToolCall is one model-requested tool invocation, carried on an assistant
// ChatMessage's ToolCalls field.
type ToolCall struct {
	ID        string   `json:"id"`
	Index     *int     `json:"index,omitempty"`
	Name      string   `json:"name"`
	Arguments string   `json:"arguments_json_string"`
	ToolType  ToolType `json:"tool_type"`
}

// Normalize applies the ToolCall normalization rules: a missing ID is
// assigned a fresh opaque identifier and a missing ToolType defaults to
// "function". Arguments is left as is; NormalizeArguments is what serializes
// object-shaped arguments to JSON text. Normalize reports an invalidating
// error when Name is empty.
func (tc *ToolCall) Normalize() error {
	if tc.Name == "" {
		return fmt.Errorf("tool call has empty name")
	}
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	if tc.ToolType == "" {
		tc.ToolType = ToolTypeFunction
	}
	return nil
}

// NormalizeArguments canonicalizes a raw arguments value (string or decoded
// object) into the ToolCall's JSON text form.
func NormalizeArguments(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "{}", nil
	case string:
		if v == "" {
			return "{}", nil
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode tool arguments: %w", err)
		}
		return string(b), nil
	}
}

// ThinkingBlock carries one provider reasoning fragment, mirroring the
// teacher's model.ThinkingPart (signed plaintext xor redacted bytes).
type ThinkingBlock struct {
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`
	Redacted  []byte `json:"redacted,omitempty"`
}

// Usage reports token accounting for a turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Checkpoint marks a client-visible rollback point (filesystem snapshot),
// distinct from a provider prompt-cache checkpoint (see SPEC_FULL.md §C).
type Checkpoint struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at,omitempty"`
}

// OutputFilter describes an optional post-processing spec applied to a
// message's content before it reaches the user (e.g. markdown rendering
// hints). The engine treats it as an opaque pass-through payload.
type OutputFilter struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}

// ChatMessage is one transcript entry (data model, §3).
type ChatMessage struct {
	MessageID string `json:"message_id"`
	Role      Role   `json:"role"`

	// Text is the simple-text form of Content. Parts, when non-empty, is the
	// ordered multimodal form; exactly one of Text/Parts is meaningful for a
	// given message, matching "content: either a simple text blob or an
	// ordered sequence of multimodal elements".
	Text  string    `json:"text,omitempty"`
	Parts []Element `json:"parts,omitempty"`

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolFailed *bool      `json:"tool_failed,omitempty"`

	Usage        *Usage       `json:"usage,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`

	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ThinkingBlocks   []ThinkingBlock `json:"thinking_blocks,omitempty"`
	Citations        []json.RawMessage `json:"citations,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`

	Checkpoints  []Checkpoint  `json:"checkpoints,omitempty"`
	OutputFilter *OutputFilter `json:"output_filter,omitempty"`
}

// New constructs a ChatMessage with a freshly assigned MessageID. MessageID
// is never mutated after creation (data model invariant).
func New(role Role, text string) *ChatMessage {
	return &ChatMessage{MessageID: uuid.NewString(), Role: role, Text: text}
}

// Validate enforces the data-model invariants that do not depend on
// surrounding transcript state: tool/diff roles require a non-empty
// ToolCallID, and any populated ToolCalls must individually normalize.
func (m *ChatMessage) Validate() error {
	if (m.Role == RoleTool || m.Role == RoleDiff) && m.ToolCallID == "" {
		return fmt.Errorf("role %q requires a non-empty tool_call_id", m.Role)
	}
	for i := range m.ToolCalls {
		if err := m.ToolCalls[i].Normalize(); err != nil {
			return fmt.Errorf("tool_calls[%d]: %w", i, err)
		}
	}
	return nil
}

// MergeExtra merges a curated subset of kv into m.Extra, accepting only keys
// IsCuratedExtraKey allows and never touching Role, Text/Parts, or
// MessageID — even if kv carries keys by those names. This implements the
// DeltaOp MergeExtra fold step and testable property #6.
func (m *ChatMessage) MergeExtra(kv map[string]any) {
	if len(kv) == 0 {
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		if !IsCuratedExtraKey(k) {
			continue
		}
		m.Extra[k] = v
	}
}

// Clone returns a deep-enough copy suitable for snapshotting to subscribers
// under a session's mutex (slices are copied; Extra values are shared, which
// is safe because they are only ever replaced wholesale, never mutated
// in-place after being stored).
func (m *ChatMessage) Clone() *ChatMessage {
	cp := *m
	cp.Parts = append([]Element(nil), m.Parts...)
	cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	cp.ThinkingBlocks = append([]ThinkingBlock(nil), m.ThinkingBlocks...)
	cp.Citations = append([]json.RawMessage(nil), m.Citations...)
	cp.Checkpoints = append([]Checkpoint(nil), m.Checkpoints...)
	if m.Extra != nil {
		cp.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			cp.Extra[k] = v
		}
	}
	if m.Usage != nil {
		u := *m.Usage
		cp.Usage = &u
	}
	if m.ToolFailed != nil {
		b := *m.ToolFailed
		cp.ToolFailed = &b
	}
	return &cp
}
