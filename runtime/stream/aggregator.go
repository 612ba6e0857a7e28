// Package stream implements the Stream Aggregator (§4.5): it consumes a
// provider.Stream of incremental Chunks, folds each into the draft assistant
// ChatMessage, publishes the resulting DeltaOps on the session's event bus,
// and enforces heartbeat/idle/total timeouts.
//
// Grounded on goa-ai's runtime/agent/stream (typed Event union fanned out
// over a Sink/bus) generalized to the spec's draft-message fold model, and
// runtime/agent/model_wrapper's tool-call-fragment merge-by-index loop
// (adapted here to the data model's ToolCall/ThinkingBlock types).
package stream

import (
	"context"
	"io"
	"time"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
)

const (
	// Heartbeat is the maximum silence interval before a no-op keepalive
	// delta is published (§4.5).
	Heartbeat = 2 * time.Second
	// IdleTimeout aborts the stream if no provider chunk arrives for this
	// long (§4.5).
	IdleTimeout = 120 * time.Second
	// TotalTimeout bounds the entire streaming turn regardless of activity
	// (§4.5).
	TotalTimeout = 15 * time.Minute
)

// Aggregator folds one provider stream into one finalized assistant message,
// publishing progress on bus under chatID.
type Aggregator struct {
	bus    *events.Bus
	chatID string
}

// New builds an Aggregator that publishes to bus under chatID.
func New(bus *events.Bus, chatID string) *Aggregator {
	return &Aggregator{bus: bus, chatID: chatID}
}

// openCall tracks one in-flight tool call fragment by stream index.
type openCall struct {
	call *message.ToolCall
}

// Run drains s into draft, publishing StreamStarted once, a StreamDelta per
// non-empty fold, heartbeats during silence, and exactly one StreamFinished.
// draft.Role must already be message.RoleAssistant. On timeout it finalizes
// draft with finish_reason=length, publishes StreamFinished, and returns a
// *errs.Error of kind Timeout alongside the finalized message.
func (a *Aggregator) Run(ctx context.Context, s provider.Stream, draft *message.ChatMessage) (*message.ChatMessage, error) {
	a.bus.Publish(a.chatID, events.StreamStarted{MessageID: draft.MessageID})

	type recvResult struct {
		chunk provider.Chunk
		err   error
	}
	results := make(chan recvResult, 1)
	go func() {
		for {
			c, err := s.Recv()
			results <- recvResult{c, err}
			if err != nil {
				return
			}
		}
	}()

	total := time.NewTimer(TotalTimeout)
	defer total.Stop()
	idle := time.NewTimer(IdleTimeout)
	defer idle.Stop()
	heartbeat := time.NewTicker(Heartbeat)
	defer heartbeat.Stop()

	open := map[int]*openCall{}
	var order []int
	finishReason := string(message.FinishStop)

	finish := func(reason string) *message.ChatMessage {
		normalizeToolCalls(draft, open, order)
		if draft.FinishReason == "" {
			draft.FinishReason = message.FinishReason(reason)
		}
		a.bus.Publish(a.chatID, events.StreamFinished{MessageID: draft.MessageID, FinishReason: string(draft.FinishReason)})
		return draft
	}

	for {
		select {
		case <-ctx.Done():
			return finish(string(message.FinishAbort)), ctx.Err()

		case <-total.C:
			return finish(string(message.FinishLength)), errs.New(errs.Timeout, "stream total timeout exceeded")

		case <-idle.C:
			return finish(string(message.FinishLength)), errs.New(errs.Timeout, "stream idle timeout exceeded")

		case <-heartbeat.C:
			a.bus.Publish(a.chatID, events.StreamDelta{MessageID: draft.MessageID, Ops: nil})

		case r := <-results:
			idle.Reset(IdleTimeout)
			heartbeat.Reset(Heartbeat)

			if r.err != nil {
				if r.err == io.EOF {
					return finish(finishReason), nil
				}
				return finish(string(message.FinishAbort)), errs.Wrap(errs.ProviderError, r.err, "provider stream terminated abnormally")
			}

			if r.chunk.Type == provider.ChunkStop && r.chunk.FinishReason != "" {
				finishReason = r.chunk.FinishReason
			}

			if op, ok := fold(draft, open, &order, r.chunk); ok {
				a.bus.Publish(a.chatID, events.StreamDelta{MessageID: draft.MessageID, Ops: []events.DeltaOp{op}})
			}
		}
	}
}

// fold applies one provider chunk to draft and returns the DeltaOp it
// corresponds to, or ok=false for chunk types that carry no client-visible
// delta (e.g. a bare ChunkStop).
func fold(draft *message.ChatMessage, open map[int]*openCall, order *[]int, c provider.Chunk) (events.DeltaOp, bool) {
	switch c.Type {
	case provider.ChunkContent:
		draft.Text += c.Text
		return events.DeltaOp{Kind: events.OpAppendContent, Text: c.Text}, true

	case provider.ChunkReasoning:
		draft.ReasoningContent += c.Text
		return events.DeltaOp{Kind: events.OpAppendReasoning, Text: c.Text}, true

	case provider.ChunkToolCallDelta:
		if c.ToolCallDelta == nil {
			return events.DeltaOp{}, false
		}
		mergeToolCallDelta(draft, open, order, *c.ToolCallDelta)
		return events.DeltaOp{Kind: events.OpSetToolCalls, ToolCalls: snapshotToolCalls(*order, open)}, true

	case provider.ChunkThinking:
		if c.Thinking == nil {
			return events.DeltaOp{}, false
		}
		draft.ThinkingBlocks = []message.ThinkingBlock{{
			Text:      c.Thinking.Text,
			Signature: c.Thinking.Signature,
			Redacted:  c.Thinking.Redacted,
		}}
		return events.DeltaOp{Kind: events.OpSetThinkingBlocks, ThinkingBlocks: draft.ThinkingBlocks}, true

	case provider.ChunkCitation:
		return events.DeltaOp{Kind: events.OpAddCitation, Citation: c.Citation}, true

	case provider.ChunkUsage:
		if c.Usage == nil {
			return events.DeltaOp{}, false
		}
		u := &message.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
		draft.Usage = u
		return events.DeltaOp{Kind: events.OpSetUsage, Usage: u}, true

	case provider.ChunkExtra:
		if len(c.Extra) == 0 {
			return events.DeltaOp{}, false
		}
		draft.MergeExtra(c.Extra)
		return events.DeltaOp{Kind: events.OpMergeExtra, Extra: c.Extra}, true

	default: // ChunkStop carries no independent delta
		return events.DeltaOp{}, false
	}
}

// mergeToolCallDelta implements the §4.5 indexed fragment merge: a fragment
// carrying Name starts a new call, a fragment with only ArgumentsFragment
// appends to the call already open at that index.
func mergeToolCallDelta(draft *message.ChatMessage, open map[int]*openCall, order *[]int, d provider.ToolCallDelta) {
	oc, exists := open[d.Index]
	if d.Name != "" && !exists {
		oc = &openCall{call: &message.ToolCall{
			ID:       d.ID,
			Name:     d.Name,
			ToolType: message.ToolTypeFunction,
		}}
		open[d.Index] = oc
		*order = append(*order, d.Index)
	}
	if oc == nil {
		return
	}
	oc.call.Arguments += d.ArgumentsFragment
	draft.ToolCalls = snapshotToolCalls(*order, open)
}

// snapshotToolCalls rebuilds a ToolCalls slice from the open-call map in
// stream order, keeping draft.ToolCalls authoritative between deltas.
func snapshotToolCalls(order []int, open map[int]*openCall) []message.ToolCall {
	out := make([]message.ToolCall, 0, len(order))
	for _, idx := range order {
		if oc, ok := open[idx]; ok {
			out = append(out, *oc.call)
		}
	}
	return out
}

// normalizeToolCalls applies the §4.5 finalization rules: calls with an
// empty name are dropped, and every surviving call's arguments are
// normalized to JSON text.
func normalizeToolCalls(draft *message.ChatMessage, open map[int]*openCall, order []int) {
	final := make([]message.ToolCall, 0, len(order))
	for _, idx := range order {
		oc, ok := open[idx]
		if !ok || oc.call.Name == "" {
			continue
		}
		args, err := message.NormalizeArguments(oc.call.Arguments)
		if err == nil {
			oc.call.Arguments = args
		}
		_ = oc.call.Normalize()
		final = append(final, *oc.call)
	}
	draft.ToolCalls = final
	if len(final) > 0 {
		draft.FinishReason = message.FinishToolCalls
	}
}
