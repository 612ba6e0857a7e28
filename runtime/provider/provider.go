// Package provider defines the pluggable Provider Adapter contract (§4.5,
// §9): a sink that turns a prepared request into a stream of incremental
// deltas and a terminal finish reason. Concrete adapters (providers/
// anthropic, providers/openai, providers/bedrock) implement Adapter; the
// runtime never branches on provider identity outside this boundary.
//
// Grounded on goa-ai's runtime/agent/model.Client/Streamer: "define a
// trait-like interface prepare(request) -> async stream<Delta> with a finish
// contract, not an inheritance hierarchy. Adding a provider never edits
// other adapters."
package provider

import "context"

// ReasoningSupport names the reasoning/thinking adaptation table row a model
// capability record maps to (§4.4 step 3).
type ReasoningSupport string

const (
	ReasoningNone      ReasoningSupport = "none"
	ReasoningOpenAI    ReasoningSupport = "openai"
	ReasoningAnthropic ReasoningSupport = "anthropic"
	ReasoningQwen      ReasoningSupport = "qwen"
	ReasoningOther     ReasoningSupport = "other"
)

// ModelRecord is the resolved capability record for a named model.
type ModelRecord struct {
	ID                     string
	NCtx                   int
	DefaultTemperature     float64
	SupportsReasoning      ReasoningSupport
	SupportsBoostReasoning bool
}

// WireRole is the provider wire-level role assigned to a converted message
// (§6 Provider wire form).
type WireRole string

const (
	WireSystem    WireRole = "system"
	WireUser      WireRole = "user"
	WireAssistant WireRole = "assistant"
	WireTool      WireRole = "tool"
)

// WireToolCall is a provider wire-level tool call declaration on an
// assistant message.
type WireToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// WireMessage is one provider wire-level message, produced by the Prompt
// Preparer's final conversion step (§4.4 step 10, §6).
type WireMessage struct {
	Role       WireRole
	Content    string
	ToolCallID string
	ToolCalls  []WireToolCall
	// ThinkingBlocks carries raw provider reasoning signatures; stripped
	// before conversion unless thinking is enabled for the target model.
	ThinkingBlocks []ThinkingBlock
}

// ThinkingBlock mirrors message.ThinkingBlock without importing the message
// package, keeping the wire boundary provider-agnostic.
type ThinkingBlock struct {
	Text      string
	Signature string
	Redacted  []byte
}

// ToolDef is the provider wire-level tool/function declaration.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ThinkingOptions configures provider reasoning behavior on a Request.
type ThinkingOptions struct {
	Type         string // "enabled" or empty
	BudgetTokens int
}

// SamplingParameters mirrors the data model's SamplingParameters (§3).
type SamplingParameters struct {
	MaxNewTokens     int
	Temperature      *float64
	TopP             *float64
	Stop             []string
	ReasoningEffort  string
	Thinking         *ThinkingOptions
	EnableThinking   *bool
	BoostReasoning   bool
}

// Request is a fully prepared, provider-agnostic outgoing request.
type Request struct {
	Model    string
	Messages []WireMessage
	Tools    []ToolDef
	Sampling SamplingParameters
}

// ChunkType discriminates the payload carried by a Chunk.
type ChunkType string

const (
	ChunkContent       ChunkType = "content"
	ChunkReasoning     ChunkType = "reasoning"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkThinking      ChunkType = "thinking"
	ChunkCitation      ChunkType = "citation"
	ChunkUsage         ChunkType = "usage"
	ChunkExtra         ChunkType = "extra"
	ChunkStop          ChunkType = "stop"
)

// ToolCallDelta is one indexed fragment of a tool call under construction.
// Providers stream tool calls as repeated fragments identified by Index;
// the Stream Aggregator merges them (§4.5).
type ToolCallDelta struct {
	// Index identifies which in-flight tool call this fragment belongs to.
	// Providers may encode it as a JSON string or number; adapters normalize
	// to int before emitting the Chunk.
	Index int
	// ID is set only on the fragment that starts a new call.
	ID string
	// Name is set only on the fragment that starts a new call.
	Name string
	// ArgumentsFragment is appended to the named call's running arguments
	// buffer.
	ArgumentsFragment string
}

// Usage reports incremental or final token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one incremental event from a provider stream.
type Chunk struct {
	Type ChunkType

	Text          string
	ToolCallDelta *ToolCallDelta
	Thinking      *ThinkingBlock
	Citation      any
	Usage         *Usage
	Extra         map[string]any

	// FinishReason is set when Type is ChunkStop.
	FinishReason string
}

// Stream delivers incremental chunks for one in-flight request.
type Stream interface {
	// Recv returns the next chunk, or io.EOF once the provider has finished
	// (after a ChunkStop chunk has already been delivered).
	Recv() (Chunk, error)
	// Close releases resources associated with the stream.
	Close() error
}

// Adapter is the pluggable sink every provider integration implements.
type Adapter interface {
	// Stream begins a streaming completion for req.
	Stream(ctx context.Context, req *Request) (Stream, error)
}
