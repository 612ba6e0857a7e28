package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
)

// Publisher is the narrow slice of events.Bus the dispatcher needs, so tests
// can supply a recording fake without standing up a real bus.
type Publisher interface {
	Publish(chatID string, ev events.Event) events.Envelope
}

// IdeGateway resolves IdeTool calls against the connected IDE. Dispatch emits
// IdeToolRequired, then calls RunIdeTool, which is expected to put the
// session in WaitingIde and block until the matching IdeToolResult command
// arrives (or ctx is canceled) — from Dispatch's perspective this is just a
// blocking call (§4.6 step 3).
type IdeGateway interface {
	RunIdeTool(ctx context.Context, toolCallID, toolName string, args map[string]any) (ExecuteResult, error)
}

// Outcome is the result of one Dispatch call.
type Outcome struct {
	// Added holds every message produced, in append order — tool results,
	// diff/cd_instruction/context_file pieces the tool contributed, and
	// synthetic deny/error messages.
	Added []*message.ChatMessage
	// Dirty is true if any executed tool reported a workspace mutation.
	Dirty bool
	// Paused is true if dispatch stopped early on a CONFIRMATION gate; the
	// session must wait for a ToolDecision(s) command before resuming.
	Paused bool
	// Retrigger is true if Added is non-empty and dispatch did not pause
	// (Paused is false), signaling the caller should
	// re-enter the Preparer for another turn (§4.6 step 6).
	Retrigger bool
	// PendingCalls holds every call from the first CONFIRMATION gate
	// onward (inclusive) when Paused is true, so the session orchestrator
	// can resume the batch once a ToolDecision(s) command resolves them.
	PendingCalls []message.ToolCall
	// PauseReasons mirrors the Reasons of the PauseRequired event published
	// when Paused is true, so the orchestrator can reconstruct a Snapshot
	// without re-subscribing to its own bus.
	PauseReasons []events.PauseReason
}

// Dispatch runs the §4.6 tool-call dispatch algorithm over the tool calls of
// an already-finalized assistant message, in declaration order. ctx carries
// the session's cancellation: if it is canceled mid-dispatch, remaining and
// in-flight calls are finalized as truncated-result tool messages instead of
// being executed.
func Dispatch(ctx context.Context, reg *Registry, bus Publisher, ide IdeGateway, chatID string, calls []message.ToolCall) Outcome {
	var out Outcome
	var pauseReasons []events.PauseReason

	for _, call := range calls {
		if pauseReasons != nil {
			// A CONFIRMATION gate already fired; every remaining call waits
			// for the pending ToolDecision(s) command before it can run.
			out.PendingCalls = append(out.PendingCalls, call)
			continue
		}

		select {
		case <-ctx.Done():
			out.Added = append(out.Added, abortedToolMessage(call))
			continue
		default:
		}

		tool, ok := reg.Lookup(call.Name)
		if !ok {
			out.Added = append(out.Added, errorToolMessage(call, fmt.Sprintf("tool %q is not available", call.Name)))
			continue
		}

		args, err := decodeArgs(call.Arguments)
		if err != nil {
			out.Added = append(out.Added, errorToolMessage(call, fmt.Sprintf("invalid arguments: %v", err)))
			continue
		}

		if err := reg.Validate(call.Name, args); err != nil {
			out.Added = append(out.Added, errorToolMessage(call, err.Error()))
			continue
		}

		match := tool.MatchAgainstConfirmDeny(args)
		switch match.Decision {
		case Deny:
			out.Added = append(out.Added, errorToolMessage(call, fmt.Sprintf("denied by rule %q", match.Rule)))
			continue
		case Confirmation:
			pauseReasons = append(pauseReasons, events.PauseReason{
				Type:       "confirmation",
				Command:    match.Command,
				Rule:       match.Rule,
				ToolCallID: call.ID,
			})
			out.PendingCalls = append(out.PendingCalls, call)
			continue
		}

		if idet, ok := tool.(IdeTool); ok && idet.RequiresIde(args) {
			if ide == nil {
				out.Added = append(out.Added, errorToolMessage(call, "tool requires ide cooperation but no ide is connected"))
				continue
			}
			bus.Publish(chatID, events.IdeToolRequired{ToolCallID: call.ID, ToolName: call.Name, Args: args})
			res, err := ide.RunIdeTool(ctx, call.ID, call.Name, args)
			if err != nil {
				out.Added = append(out.Added, errorToolMessage(call, err.Error()))
				continue
			}
			appendResult(&out, bus, chatID, call, res)
			continue
		}

		res, err := tool.Execute(ctx, call.ID, args)
		if err != nil {
			out.Added = append(out.Added, errorToolMessage(call, err.Error()))
			continue
		}
		appendResult(&out, bus, chatID, call, res)
	}

	if pauseReasons != nil {
		bus.Publish(chatID, events.PauseRequired{Reasons: pauseReasons})
		out.Paused = true
		out.PauseReasons = pauseReasons
	}
	out.Retrigger = len(out.Added) > 0 && !out.Paused
	return out
}

// ResumeDecision runs one previously-paused call after an operator decision
// resolved its CONFIRMATION gate, bypassing MatchAgainstConfirmDeny (the
// operator's decision supersedes it). A denial produces the same synthetic
// failure message Dispatch would have produced for DENY; acceptance runs the
// call exactly as Dispatch would have for a PASS result, including IdeTool
// cooperation. The caller is responsible for re-invoking Dispatch over any
// calls still pending after this one (§4.8 Paused -> ExecutingTools).
func ResumeDecision(ctx context.Context, reg *Registry, bus Publisher, ide IdeGateway, chatID string, call message.ToolCall, accepted bool) Outcome {
	if !accepted {
		return syntheticOutcome(bus, chatID, errorToolMessage(call, "denied by operator"))
	}

	tool, ok := reg.Lookup(call.Name)
	if !ok {
		return syntheticOutcome(bus, chatID, errorToolMessage(call, fmt.Sprintf("tool %q is not available", call.Name)))
	}

	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return syntheticOutcome(bus, chatID, errorToolMessage(call, fmt.Sprintf("invalid arguments: %v", err)))
	}

	if idet, ok := tool.(IdeTool); ok && idet.RequiresIde(args) {
		if ide == nil {
			return syntheticOutcome(bus, chatID, errorToolMessage(call, "tool requires ide cooperation but no ide is connected"))
		}
		bus.Publish(chatID, events.IdeToolRequired{ToolCallID: call.ID, ToolName: call.Name, Args: args})
		res, err := ide.RunIdeTool(ctx, call.ID, call.Name, args)
		if err != nil {
			return syntheticOutcome(bus, chatID, errorToolMessage(call, err.Error()))
		}
		var out Outcome
		appendResult(&out, bus, chatID, call, res)
		out.Retrigger = true
		return out
	}

	res, err := tool.Execute(ctx, call.ID, args)
	if err != nil {
		return syntheticOutcome(bus, chatID, errorToolMessage(call, err.Error()))
	}
	var out Outcome
	appendResult(&out, bus, chatID, call, res)
	out.Retrigger = true
	return out
}

// syntheticOutcome wraps a single synthetic message (a denial or error) as
// an Outcome. It does not publish MessageAdded itself: the caller's ledger
// is the sole source of that event, the same as every other transcript
// mutation (§4.2), so the orchestrator publishes once it has appended the
// message and assigned it a place in the transcript.
func syntheticOutcome(bus Publisher, chatID string, msg *message.ChatMessage) Outcome {
	return Outcome{Added: []*message.ChatMessage{msg}, Retrigger: true}
}

func appendResult(out *Outcome, bus Publisher, chatID string, call message.ToolCall, res ExecuteResult) {
	if res.Dirty {
		out.Dirty = true
	}
	msgs := res.Messages
	if len(msgs) == 0 {
		msgs = []*message.ChatMessage{toolSuccessMessage(call, "")}
	}
	for _, m := range msgs {
		if m.ToolCallID == "" {
			m.ToolCallID = call.ID
		}
		if m.Role == message.RoleTool && m.ToolFailed == nil {
			failed := false
			m.ToolFailed = &failed
		}
		out.Added = append(out.Added, m)
	}
	for _, f := range res.Files {
		cf := message.New(message.RoleContextFile, "")
		cf.Parts = []message.Element{{MIMEType: f.Path, Text: f.Content}}
		out.Added = append(out.Added, cf)
	}
}

func decodeArgs(argsJSON string) (map[string]any, error) {
	if argsJSON == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func toolSuccessMessage(call message.ToolCall, text string) *message.ChatMessage {
	m := message.New(message.RoleTool, text)
	m.ToolCallID = call.ID
	failed := false
	m.ToolFailed = &failed
	return m
}

func errorToolMessage(call message.ToolCall, reason string) *message.ChatMessage {
	m := message.New(message.RoleTool, reason)
	m.ToolCallID = call.ID
	failed := true
	m.ToolFailed = &failed
	return m
}

func abortedToolMessage(call message.ToolCall) *message.ChatMessage {
	return errorToolMessage(call, "tool call aborted before it ran")
}
