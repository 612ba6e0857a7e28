package prepare

import (
	"fmt"
	"strings"

	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
)

// convertWire applies the §6 provider-wire-form conversion rules to a
// trimmed, thinking-stripped message list (§4.4 step 10).
func convertWire(msgs []*message.ChatMessage) []provider.WireMessage {
	var out []provider.WireMessage
	for _, m := range msgs {
		out = append(out, convertOne(m)...)
	}
	return out
}

func convertOne(m *message.ChatMessage) []provider.WireMessage {
	switch m.Role {
	case message.RoleSystem:
		return []provider.WireMessage{{Role: provider.WireSystem, Content: m.Text}}

	case message.RoleUser:
		return []provider.WireMessage{{Role: provider.WireUser, Content: textOf(m)}}

	case message.RoleAssistant:
		return []provider.WireMessage{convertAssistant(m)}

	case message.RoleTool:
		return convertTool(m)

	case message.RoleDiff:
		return []provider.WireMessage{{
			Role:       provider.WireTool,
			ToolCallID: m.ToolCallID,
			Content:    fmt.Sprintf("[diff applied] %s", m.Text),
		}}

	case message.RolePlainText, message.RoleCDInstr:
		return []provider.WireMessage{{Role: provider.WireUser, Content: m.Text}}

	case message.RoleContextFile:
		return convertContextFile(m)

	default:
		return []provider.WireMessage{{Role: provider.WireUser, Content: textOf(m)}}
	}
}

func textOf(m *message.ChatMessage) string {
	if len(m.Parts) == 0 {
		return m.Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// convertAssistant rewrites a thinking-only, content-less assistant turn to
// a short continuation sentence per §6 ("never send content-less assistant
// turns").
func convertAssistant(m *message.ChatMessage) provider.WireMessage {
	wm := provider.WireMessage{Role: provider.WireAssistant, Content: textOf(m)}
	for _, tc := range m.ToolCalls {
		wm.ToolCalls = append(wm.ToolCalls, provider.WireToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	for _, tb := range m.ThinkingBlocks {
		wm.ThinkingBlocks = append(wm.ThinkingBlocks, provider.ThinkingBlock{
			Text: tb.Text, Signature: tb.Signature, Redacted: tb.Redacted,
		})
	}
	if wm.Content == "" && len(wm.ToolCalls) == 0 {
		wm.Content = "Continuing..."
		wm.ThinkingBlocks = nil
	}
	return wm
}

// convertTool splits a multimodal tool result into a text tool message plus,
// when non-text elements are present, a follow-on synthetic user message
// that lists one "[attachment: <mime>]" line per element. The elements'
// bytes are not forwarded.
func convertTool(m *message.ChatMessage) []provider.WireMessage {
	if len(m.Parts) == 0 {
		return []provider.WireMessage{{Role: provider.WireTool, ToolCallID: m.ToolCallID, Content: m.Text}}
	}
	var textParts []string
	var mediaParts []message.Element
	for _, p := range m.Parts {
		if strings.HasPrefix(p.MIMEType, "text/") || p.MIMEType == "" {
			textParts = append(textParts, p.Text)
		} else {
			mediaParts = append(mediaParts, p)
		}
	}
	out := []provider.WireMessage{{
		Role:       provider.WireTool,
		ToolCallID: m.ToolCallID,
		Content:    strings.Join(textParts, "\n"),
	}}
	if len(mediaParts) > 0 {
		var b strings.Builder
		for _, p := range mediaParts {
			fmt.Fprintf(&b, "[attachment: %s]\n", p.MIMEType)
		}
		out = append(out, provider.WireMessage{Role: provider.WireUser, Content: b.String()})
	}
	return out
}

// convertContextFile renders one user message per listed file, per §6's
// "<path>:<line1>-<line2>\n```\n<content>```" format. The data model's
// Element carries a path (MIMEType) and content (Text) but no line span, so
// the rendered form omits the range when unavailable.
func convertContextFile(m *message.ChatMessage) []provider.WireMessage {
	if len(m.Parts) == 0 {
		return []provider.WireMessage{{Role: provider.WireUser, Content: m.Text}}
	}
	out := make([]provider.WireMessage, 0, len(m.Parts))
	for _, p := range m.Parts {
		out = append(out, provider.WireMessage{
			Role:    provider.WireUser,
			Content: fmt.Sprintf("%s\n```\n%s```", p.MIMEType, p.Text),
		})
	}
	return out
}
