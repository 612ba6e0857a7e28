package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/patch"
)

// ApplyEditTool exposes the Patch Engine as the model-facing "apply_edit"
// tool (§4.6, §4.7): one call carries a batch of DiffChunks, and the
// Engine's all-or-nothing commit plus its AST/lint verification gate are
// surfaced to the model as an ordinary tool success or tool_failed result,
// matching spec.md's "PatchInvalid / PatchAmbiguous / PatchIntroducesErrors
// ... surfaces the explanation as a normal tool failure."
type ApplyEditTool struct {
	Engine *patch.Engine
}

// Description implements Tool.
func (t *ApplyEditTool) Description() Description {
	return Description{
		Name:        "apply_edit",
		Description: "Apply a batch of diff chunks (edit, add, remove, or rename) to workspace files as a single atomic commit.",
		Parameters: []Parameter{
			{Name: "chunks", Type: "array", Description: "the DiffChunk batch to apply"},
		},
		ParametersRequired: []string{"chunks"},
		Agentic:            true,
		ConfirmDeny:        true,
	}
}

// DependsOn implements Tool; apply_edit has no capability prerequisite of
// its own beyond a workspace filesystem, which Engine already carries.
func (t *ApplyEditTool) DependsOn() []string { return nil }

// MatchAgainstConfirmDeny implements Tool. Filesystem writes are always
// gated behind operator confirmation: this always returns Confirmation, and
// Dispatch acts on it as returned, so every apply_edit call pauses for an
// operator decision.
func (t *ApplyEditTool) MatchAgainstConfirmDeny(args map[string]any) MatchResult {
	return MatchResult{Decision: Confirmation, Command: t.CommandToMatchAgainstConfirmDeny(args), Rule: "apply_edit"}
}

// CommandToMatchAgainstConfirmDeny implements Tool.
func (t *ApplyEditTool) CommandToMatchAgainstConfirmDeny(args map[string]any) string {
	chunks, err := decodeChunks(args["chunks"])
	if err != nil {
		return "apply_edit <invalid chunks>"
	}
	names := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		names[c.FileName] = true
	}
	return fmt.Sprintf("apply_edit: %d chunk(s) across %d file(s)", len(chunks), len(names))
}

// Execute implements Tool: it decodes the call's chunks, runs them through
// the Patch Engine, and reports the result as a tool message. A rejected
// batch (verification gate, structural failure, or any chunk's fuzzy match
// miss) surfaces as a returned error so Dispatch's existing error path
// produces the tool_failed message (§4.6 step 4) without this tool
// duplicating that logic.
func (t *ApplyEditTool) Execute(ctx context.Context, toolCallID string, args map[string]any) (ExecuteResult, error) {
	chunks, err := decodeChunks(args["chunks"])
	if err != nil {
		return ExecuteResult{}, errs.Wrap(errs.ToolArgsInvalid, err, "apply_edit: invalid chunks")
	}

	results, outcomes, checkpoint, err := t.Engine.Apply(chunks)
	if err != nil {
		return ExecuteResult{}, errs.Wrap(errs.ToolFailed, err, "apply_edit: commit failed")
	}
	if detail, ok := firstFailure(outcomes); ok {
		return ExecuteResult{}, errs.Newf(errs.ToolFailed, "apply_edit: %s", detail)
	}

	failed := false
	msg := message.New(message.RoleTool, summarizeOutcomes(outcomes))
	msg.ToolCallID = toolCallID
	msg.ToolFailed = &failed
	if checkpoint != nil {
		msg.Checkpoints = []message.Checkpoint{*checkpoint}
	}

	var files []ContextFile
	for _, r := range results {
		if r.FileText != nil && r.FileNameEdit != nil {
			files = append(files, ContextFile{Path: *r.FileNameEdit, Content: *r.FileText})
		}
	}

	return ExecuteResult{Dirty: len(results) > 0, Messages: []*message.ChatMessage{msg}, Files: files}, nil
}

func firstFailure(outcomes []patch.Outcome) (string, bool) {
	for _, o := range outcomes {
		if !o.Applied {
			if o.Detail != "" {
				return o.Detail, true
			}
			return "diff batch rejected", true
		}
	}
	return "", false
}

func summarizeOutcomes(outcomes []patch.Outcome) string {
	return fmt.Sprintf("applied %d chunk(s)", len(outcomes))
}

// diffChunkWire mirrors DiffChunk's spec.md field names (data model §3) for
// decoding a model-supplied chunks argument.
type diffChunkWire struct {
	FileName           string `json:"file_name"`
	FileNameRename     string `json:"file_name_rename"`
	FileAction         string `json:"file_action"`
	Line1              int    `json:"line1"`
	Line2              int    `json:"line2"`
	LinesRemove        string `json:"lines_remove"`
	LinesAdd           string `json:"lines_add"`
	ApplicationDetails string `json:"application_details"`
}

func decodeChunks(raw any) ([]patch.DiffChunk, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing required argument %q", "chunks")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	var wire []diffChunkWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	chunks := make([]patch.DiffChunk, len(wire))
	for i, w := range wire {
		chunks[i] = patch.DiffChunk{
			FileName:           w.FileName,
			FileNameRename:     w.FileNameRename,
			FileAction:         patch.Action(w.FileAction),
			Line1:              w.Line1,
			Line2:              w.Line2,
			LinesRemove:        w.LinesRemove,
			LinesAdd:           w.LinesAdd,
			ApplicationDetails: w.ApplicationDetails,
		}
	}
	if err := patch.CorrectAndValidate(chunks, nil, nil); err != nil {
		return nil, err
	}
	return chunks, nil
}
