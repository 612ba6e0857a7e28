// Package prepare implements the Prompt Preparer (§4.4): it turns a message
// list, thread configuration, and resolved model record into a complete
// provider-agnostic wire request, or a hard error — there is no partial
// preparation.
//
// Grounded on goa-ai's runtime/agent/runtime turn-assembly helpers (resolve
// capability record, adapt sampling, invoke history policy, convert to wire
// form in one linear pipeline per turn) generalized to the spec's ten-step
// pipeline and provider-specific reasoning adaptation table.
package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatcore/engine/runtime/budget"
	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/session"
)

// ModelRegistry resolves a model identifier to its capability record.
type ModelRegistry interface {
	Resolve(modelID string) (provider.ModelRecord, bool)
}

// ToolCatalog reports the tools available to a given model, already filtered
// to those whose dependencies are satisfied (§4.6 depends_on).
type ToolCatalog interface {
	SupportedTools(modelID string) []provider.ToolDef
}

// AtCommandExpander expands preparation-time @-command macros within a
// user message's text (file/search/tree/web/…), distinct from model tool
// calls (§4.4 step 5).
type AtCommandExpander interface {
	Expand(ctx context.Context, text string) (string, error)
}

// ToolPrerunner executes tool calls ahead of a turn to resume work
// interrupted mid-stream (§4.4 step 6).
type ToolPrerunner interface {
	Prerun(ctx context.Context, calls []message.ToolCall) ([]*message.ChatMessage, error)
}

// WorkspaceInfo supplies the placeholder values for system-prompt synthesis.
type WorkspaceInfo struct {
	ActiveFile     string
	VCS            string
	ProjectDirs    []string
	ProjectSummary string // rendered YAML, empty if absent
}

// WorkspaceInfoProvider reports the current workspace snapshot used to
// populate %WORKSPACE_INFO%/%PROJECT_SUMMARY% placeholders.
type WorkspaceInfoProvider interface {
	WorkspaceInfo(ctx context.Context) (WorkspaceInfo, error)
}

// SystemPromptProvider resolves the named system prompt template for a
// thread's chat_mode.
type SystemPromptProvider interface {
	SystemPrompt(mode session.Mode) (text string, ok bool)
}

// Options toggles the optional preparation steps (§4.4 steps 4-6).
type Options struct {
	PrependSystemPrompt bool
	AllowAtCommands     bool
	AllowToolPrerun      bool
	// AllowedPrerunTools restricts which tool names may be pre-executed; a
	// nil map means none are allowed even if AllowToolPrerun is set.
	AllowedPrerunTools map[string]bool
}

// Input bundles everything the preparer needs for one turn.
type Input struct {
	Messages []*message.ChatMessage
	Thread   session.ThreadParams
	Sampling session.SamplingParameters
	Options  Options
}

// PreparedChat is the preparer's sole successful output: a complete request,
// ready to hand to a provider.Adapter.
type PreparedChat struct {
	Request *provider.Request
}

// Preparer implements the §4.4 pipeline. Zero-value collaborators
// (AtExpander, Prerunner, Workspace, SystemPrompts) disable the
// corresponding optional step even if Options requests it.
type Preparer struct {
	Models      ModelRegistry
	Tools       ToolCatalog
	Budgeter    *budget.Budgeter
	AtExpander  AtCommandExpander
	Prerunner   ToolPrerunner
	Workspace   WorkspaceInfoProvider
	SystemPrompts SystemPromptProvider
}

// New builds a Preparer from its required collaborators. Optional
// collaborators (AtExpander, Prerunner, Workspace, SystemPrompts) can be
// assigned on the returned value afterwards.
func New(models ModelRegistry, tools ToolCatalog, budgeter *budget.Budgeter) *Preparer {
	return &Preparer{Models: models, Tools: tools, Budgeter: budgeter}
}

// Prepare runs the full ten-step pipeline (§4.4).
func (p *Preparer) Prepare(ctx context.Context, in Input) (*PreparedChat, error) {
	model, ok := p.Models.Resolve(in.Thread.Model)
	if !ok {
		return nil, errs.Newf(errs.ModelUnknown, "model %q is not registered", in.Thread.Model)
	}

	effectiveNCtx := model.NCtx
	if in.Thread.ContextTokensCap > 0 && in.Thread.ContextTokensCap < model.NCtx {
		effectiveNCtx = in.Thread.ContextTokensCap
	}

	sampling, thinkingEnabled := adaptSampling(model, in.Sampling)

	msgs := cloneAll(in.Messages)

	if in.Options.PrependSystemPrompt {
		sys, err := p.systemPromptMessage(ctx, in.Thread.Mode)
		if err != nil {
			return nil, err
		}
		if sys != nil {
			msgs = append([]*message.ChatMessage{sys}, msgs...)
		}
	}

	if in.Options.AllowAtCommands && p.AtExpander != nil {
		for _, m := range msgs {
			if m.Role != message.RoleUser || m.Text == "" {
				continue
			}
			expanded, err := p.AtExpander.Expand(ctx, m.Text)
			if err != nil {
				return nil, errs.Wrap(errs.BadRequest, err, "at-command expansion failed")
			}
			m.Text = expanded
		}
	}

	if in.Options.AllowToolPrerun && p.Prerunner != nil && len(in.Options.AllowedPrerunTools) > 0 {
		if last := lastAssistant(msgs); last != nil {
			allowed := pendingAllowedCalls(last, in.Options.AllowedPrerunTools)
			if len(allowed) > 0 {
				results, err := p.Prerunner.Prerun(ctx, allowed)
				if err != nil {
					return nil, errs.Wrap(errs.ToolFailed, err, "tool prerun failed")
				}
				msgs = append(msgs, results...)
			}
		}
	}

	tools := p.Tools.SupportedTools(model.ID)
	toolsCost := toolsJSONCost(tools)

	trimmed, err := p.Budgeter.Compute(budget.Input{
		Messages:      msgs,
		NCtx:          effectiveNCtx,
		MaxNewTokens:  sampling.MaxNewTokens,
		ToolsJSONCost: toolsCost,
	})
	if err != nil {
		return nil, err
	}

	if !thinkingEnabled {
		for _, m := range trimmed {
			m.ThinkingBlocks = nil
		}
	}

	wire := convertWire(trimmed)

	return &PreparedChat{Request: &provider.Request{
		Model:    model.ID,
		Messages: wire,
		Tools:    tools,
		Sampling: sampling,
	}}, nil
}

func cloneAll(in []*message.ChatMessage) []*message.ChatMessage {
	out := make([]*message.ChatMessage, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func lastAssistant(msgs []*message.ChatMessage) *message.ChatMessage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAssistant {
			return msgs[i]
		}
	}
	return nil
}

func pendingAllowedCalls(assistant *message.ChatMessage, allowed map[string]bool) []message.ToolCall {
	var out []message.ToolCall
	for _, tc := range assistant.ToolCalls {
		if allowed[tc.Name] {
			out = append(out, tc)
		}
	}
	return out
}

func toolsJSONCost(tools []provider.ToolDef) int {
	// Approximate serialized-tool-catalog token cost from its rendered
	// size; an exact count would require a tokenizer.Facade reference the
	// preparer does not otherwise need.
	n := 0
	for _, t := range tools {
		n += len(t.Name) + len(t.Description)
		for k, v := range t.Parameters {
			n += len(k) + len(fmt.Sprint(v))
		}
	}
	return n / 4
}

func (p *Preparer) systemPromptMessage(ctx context.Context, mode session.Mode) (*message.ChatMessage, error) {
	if p.SystemPrompts == nil {
		return nil, nil
	}
	text, ok := p.SystemPrompts.SystemPrompt(mode)
	if !ok || text == "" {
		return nil, nil
	}
	if p.Workspace != nil {
		info, err := p.Workspace.WorkspaceInfo(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.BadRequest, err, "workspace info lookup failed")
		}
		text = strings.ReplaceAll(text, "%WORKSPACE_INFO%", renderWorkspaceInfo(info))
		text = strings.ReplaceAll(text, "%PROJECT_SUMMARY%", info.ProjectSummary)
	}
	return message.New(message.RoleSystem, text), nil
}

func renderWorkspaceInfo(info WorkspaceInfo) string {
	var b strings.Builder
	if info.ActiveFile != "" {
		fmt.Fprintf(&b, "Active file: %s\n", info.ActiveFile)
	}
	if info.VCS != "" {
		fmt.Fprintf(&b, "VCS: %s\n", info.VCS)
	}
	if len(info.ProjectDirs) > 0 {
		fmt.Fprintf(&b, "Project directories: %s\n", strings.Join(info.ProjectDirs, ", "))
	}
	return b.String()
}
