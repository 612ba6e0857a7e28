// Package budget implements the History Budgeter & Compressor (§4.3): a pure
// function that trims and compresses a message list to fit a context window
// while preserving turn integrity. It is grounded on goa-ai's
// runtime/agent/runtime/history.go HistoryPolicy — a pure
// []*model.Message -> []*model.Message transform applied before every
// planner call — generalized here to the spec's compress-then-drop-blocks
// algorithm and exact budget arithmetic.
package budget

import (
	"fmt"
	"strings"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/tokenizer"
)

// isBlockStart reports whether r begins a new conversation block. The
// undroppable suffix is anchored separately, on the last user message
// (lastUserIndex).
func isBlockStart(r message.Role) bool {
	switch r {
	case message.RoleUser, message.RoleContextFile, message.RolePlainText, message.RoleCDInstr:
		return true
	default:
		return false
	}
}

// Input carries everything the budgeter needs to reduce a message list to a
// context window.
type Input struct {
	Messages []*message.ChatMessage
	// NCtx is the model's effective context window in tokens.
	NCtx int
	// MaxNewTokens is the sampling parameter reserved for the completion.
	MaxNewTokens int
	// Tokenizer names the tokenizer to count with; empty uses the
	// approximation.
	Tokenizer string
	// ToolsJSONCost is the token cost of the serialized tool catalog
	// description, included in the total occupied-token accounting.
	ToolsJSONCost int
}

// Budgeter reduces message lists to fit a context window (§4.3).
type Budgeter struct {
	facade *tokenizer.Facade
}

// New builds a Budgeter backed by facade.
func New(facade *tokenizer.Facade) *Budgeter {
	return &Budgeter{facade: facade}
}

func total(costs []int, extra int) int {
	sum := extra
	for _, c := range costs {
		sum += c
	}
	return sum
}

// Compute runs the full budgeter algorithm (§4.3 steps 1-7) and returns the
// trimmed message list, or a *errs.Error of kind BudgetImpossible when the
// undroppable suffix alone exceeds the budget.
func (b *Budgeter) Compute(in Input) ([]*message.ChatMessage, error) {
	if in.NCtx-in.MaxNewTokens <= 0 {
		return nil, errs.Newf(errs.BudgetImpossible, "n_ctx (%d) - max_new_tokens (%d) <= 0", in.NCtx, in.MaxNewTokens)
	}

	msgs := cloneAll(in.Messages)

	undroppable := lastUserIndex(msgs)

	costs := make([]int, len(msgs))
	for i, m := range msgs {
		costs[i] = b.costOf(in.Tokenizer, m)
	}

	budgetFor := func(occupied int) int {
		return in.NCtx - in.MaxNewTokens - tokenizer.Cushion(occupied)
	}

	occupied := total(costs, in.ToolsJSONCost)
	limit := budgetFor(occupied)

	if undroppable >= 0 {
		suffixCost := in.ToolsJSONCost
		for i := undroppable; i < len(msgs); i++ {
			suffixCost += costs[i]
		}
		if suffixCost > budgetFor(suffixCost) {
			return nil, errs.Newf(errs.BudgetImpossible,
				"last user message and its suffix (%d tokens) exceed the context budget", suffixCost)
		}
	}

	// Step 3: compress context_file/tool messages before the undroppable
	// suffix, in order, recomputing after each.
	end := len(msgs)
	if undroppable >= 0 {
		end = undroppable
	}
	for i := 0; i < end && occupied > limit; i++ {
		if compressed := compress(msgs[i]); compressed {
			newCost := b.costOf(in.Tokenizer, msgs[i])
			occupied += newCost - costs[i]
			costs[i] = newCost
			limit = budgetFor(occupied)
		}
	}

	if occupied <= limit {
		return finalize(msgs), nil
	}

	// Step 4: keep whole conversation blocks, newest first, stopping at the
	// first block that does not fit, so the oldest blocks are the ones
	// dropped. System message is always kept (step 5);
	// blocks only span the region before the undroppable suffix.
	sysOffset := 0
	if len(msgs) > 0 && msgs[0].Role == message.RoleSystem {
		sysOffset = 1
	}
	blockEnd := end
	blocks := groupBlocks(msgs[sysOffset:blockEnd])

	mandatoryCost := in.ToolsJSONCost
	for i := 0; i < sysOffset; i++ {
		mandatoryCost += costs[i]
	}
	for i := end; i < len(msgs); i++ {
		mandatoryCost += costs[i]
	}

	kept := make([]bool, len(blocks))
	running := mandatoryCost
	for i := len(blocks) - 1; i >= 0; i-- {
		blkCost := 0
		for _, m := range blocks[i].msgs {
			blkCost += b.costOf(in.Tokenizer, m)
		}
		candidate := running + blkCost
		if candidate > budgetFor(candidate) {
			break // no holes: stop at first block that doesn't fit
		}
		kept[i] = true
		running = candidate
	}

	var out []*message.ChatMessage
	out = append(out, msgs[:sysOffset]...)
	for i, blk := range blocks {
		if kept[i] {
			out = append(out, blk.msgs...)
		}
	}
	out = append(out, msgs[end:]...)

	return finalize(out), nil
}

func (b *Budgeter) costOf(tok string, m *message.ChatMessage) int {
	text := m.Text
	for _, p := range m.Parts {
		text += p.Text
	}
	return b.facade.MessageCost(tok, text)
}

func cloneAll(in []*message.ChatMessage) []*message.ChatMessage {
	out := make([]*message.ChatMessage, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func lastUserIndex(msgs []*message.ChatMessage) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			return i
		}
	}
	return -1
}

// compress replaces a context_file or tool message's content with a short
// summary, mutating msg in place. It returns false if msg is not a
// compressible role. A compressed context_file message becomes a
// cd_instruction and is not compressed again; a tool message is
// re-summarized (and true returned) on every call.
func compress(msg *message.ChatMessage) bool {
	switch msg.Role {
	case message.RoleContextFile:
		names := fileNames(msg)
		msg.Text = fmt.Sprintf("\U0001F4BF '%s' files were dropped due to compression. Ask for these files again if needed.", strings.Join(names, ", "))
		msg.Parts = nil
		msg.Role = message.RoleCDInstr
		return true
	case message.RoleTool:
		preview := msg.Text
		if len(preview) > 30 {
			preview = preview[:30]
		}
		msg.Text = fmt.Sprintf("[%s] %s...", msg.ToolCallID, preview)
		msg.Parts = nil
		return true
	default:
		return false
	}
}

func fileNames(msg *message.ChatMessage) []string {
	if len(msg.Parts) == 0 {
		return []string{msg.Text}
	}
	names := make([]string, len(msg.Parts))
	for i, p := range msg.Parts {
		names[i] = p.MIMEType
	}
	return names
}

type block struct {
	msgs []*message.ChatMessage
}

// groupBlocks partitions msgs into conversation blocks: each block begins at
// a message whose role starts a block (user/context_file/plain_text/
// cd_instruction) and extends up to, but not including, the next such
// message.
func groupBlocks(msgs []*message.ChatMessage) []block {
	var blocks []block
	var cur *block
	for _, m := range msgs {
		if isBlockStart(m.Role) || cur == nil {
			blocks = append(blocks, block{})
			cur = &blocks[len(blocks)-1]
		}
		cur.msgs = append(cur.msgs, m)
	}
	return blocks
}

// finalize applies step 6 (drop orphaned tool/diff results). It does not
// check the roles of the first and second messages of the result.
func finalize(msgs []*message.ChatMessage) []*message.ChatMessage {
	known := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			known[tc.ID] = true
		}
	}
	out := msgs[:0:0]
	for _, m := range msgs {
		if (m.Role == message.RoleTool || m.Role == message.RoleDiff) && !known[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}
