package message

import "encoding/json"

// knownFields lists the JSON keys ChatMessage declares explicitly. Any other
// top-level key present in a decoded payload is captured into Extra rather
// than discarded, so round-trips never lose unrecognized data (testable
// properties, round-trip law).
var knownFields = map[string]bool{
	"message_id": true, "role": true, "text": true, "parts": true,
	"tool_calls": true, "tool_call_id": true, "tool_failed": true,
	"usage": true, "finish_reason": true, "reasoning_content": true,
	"thinking_blocks": true, "citations": true, "extra": true,
	"checkpoints": true, "output_filter": true,
}

// MarshalJSON flattens Extra's entries alongside the declared fields as
// top-level JSON keys; the nested "extra" object is emitted as well, and
// Extra is recoverable on decode.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type alias ChatMessage
	base, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if knownFields[k] {
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = enc
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the declared fields and folds any remaining
// top-level keys (including the nested "extra" object's own keys) into
// Extra, preserving unknown data across a round trip.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias ChatMessage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = ChatMessage(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = decoded
	}
	return nil
}
