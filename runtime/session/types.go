// Package session defines the ChatSession aggregate and its orchestrator
// (§3 ChatSession, §4.8). This file holds the data-only types shared by the
// Prompt Preparer and the orchestrator itself; orchestrator.go
// adds the state machine and command queue built on top of them.
//
// Grounded on goa-ai's runtime/agent/runtime package (the aggregate that
// owns a run's mutable state across turns), generalized to the spec's
// thread-configuration fields and explicit mode enum.
package session

// Mode selects which system-prompt/tool-catalog profile a thread uses.
type Mode string

const (
	ModeNoTools        Mode = "NO_TOOLS"
	ModeExplore        Mode = "EXPLORE"
	ModeAgent          Mode = "AGENT"
	ModeConfigure      Mode = "CONFIGURE"
	ModeProjectSummary Mode = "PROJECT_SUMMARY"
)

// ThinkingOptions mirrors provider.ThinkingOptions at the session boundary.
type ThinkingOptions struct {
	Type         string
	BudgetTokens int
}

// SamplingParameters is the session-level counterpart of provider's wire
// sampling struct (§3 SamplingParameters), before per-provider adaptation.
type SamplingParameters struct {
	MaxNewTokens    int
	Temperature     *float64
	TopP            *float64
	Stop            []string
	ReasoningEffort string
	Thinking        *ThinkingOptions
	EnableThinking  *bool
	BoostReasoning  bool
}

// ThreadParams is a session's persistent configuration (§3 ThreadParams).
type ThreadParams struct {
	ID                 string
	Title              string
	Model              string
	Mode               Mode
	ToolUse            bool
	BoostReasoning     bool
	ContextTokensCap   int
	IncludeProjectInfo bool
	CheckpointsEnabled bool
	// UseCompression defaults to true; a ThreadParams constructed with its
	// zero value is not yet initialized, so callers should go through New.
	UseCompression   bool
	IsTitleGenerated bool
}

// New builds a ThreadParams with the spec's documented defaults
// (use_compression defaults true).
func New(id, model string, mode Mode) ThreadParams {
	return ThreadParams{
		ID:             id,
		Model:          model,
		Mode:           mode,
		UseCompression: true,
	}
}
