package message

import "fmt"

// MutationKind identifies which Message Model operation produced a Mutation.
type MutationKind string

const (
	MutationAdded     MutationKind = "added"
	MutationUpdated   MutationKind = "updated"
	MutationRemoved   MutationKind = "removed"
	MutationTruncated MutationKind = "truncated"
)

// Mutation describes the effect of one Ledger operation. Callers (the
// session orchestrator) use it to assign an event_seq and emit the matching
// MessageAdded/MessageUpdated/MessageRemoved/MessagesTruncated event before
// returning to their own caller, per §4.2.
type Mutation struct {
	Kind MutationKind
	// Message is populated for MutationAdded/MutationUpdated.
	Message *ChatMessage
	// MessageID is populated for MutationRemoved.
	MessageID string
	// FromIndex is populated for MutationTruncated.
	FromIndex int
}

// Ledger is the canonical, ordered transcript of a session. It is a pure
// data structure: it does not know about event sequencing or fan-out, the
// way the teacher's transcript.Ledger accumulates parts without reaching
// into workflow/event infrastructure.
type Ledger struct {
	messages []*ChatMessage
	byID     map[string]int
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{byID: make(map[string]int)}
}

// Messages returns the current transcript in order. The returned slice must
// not be mutated by the caller.
func (l *Ledger) Messages() []*ChatMessage { return l.messages }

// Len reports the number of messages currently in the ledger.
func (l *Ledger) Len() int { return len(l.messages) }

// At returns the message at index i, or nil if out of range.
func (l *Ledger) At(i int) *ChatMessage {
	if i < 0 || i >= len(l.messages) {
		return nil
	}
	return l.messages[i]
}

// Append validates and adds msg to the end of the transcript.
func (l *Ledger) Append(msg *ChatMessage) (Mutation, error) {
	if msg.MessageID == "" {
		return Mutation{}, fmt.Errorf("message_id is required")
	}
	if _, dup := l.byID[msg.MessageID]; dup {
		return Mutation{}, fmt.Errorf("message_id %q already present", msg.MessageID)
	}
	if err := msg.Validate(); err != nil {
		return Mutation{}, err
	}
	l.byID[msg.MessageID] = len(l.messages)
	l.messages = append(l.messages, msg)
	return Mutation{Kind: MutationAdded, Message: msg}, nil
}

// UpdateByID replaces the message identified by id's mutable fields via fn,
// which receives the stored message and mutates it in place. MessageID
// itself is never altered, honoring the data-model invariant.
func (l *Ledger) UpdateByID(id string, fn func(*ChatMessage)) (Mutation, error) {
	idx, ok := l.byID[id]
	if !ok {
		return Mutation{}, fmt.Errorf("message %q not found", id)
	}
	msg := l.messages[idx]
	fn(msg)
	msg.MessageID = id
	if err := msg.Validate(); err != nil {
		return Mutation{}, err
	}
	return Mutation{Kind: MutationUpdated, Message: msg}, nil
}

// RemoveByID deletes the message identified by id.
func (l *Ledger) RemoveByID(id string) (Mutation, error) {
	idx, ok := l.byID[id]
	if !ok {
		return Mutation{}, fmt.Errorf("message %q not found", id)
	}
	l.messages = append(l.messages[:idx], l.messages[idx+1:]...)
	delete(l.byID, id)
	for i := idx; i < len(l.messages); i++ {
		l.byID[l.messages[i].MessageID] = i
	}
	return Mutation{Kind: MutationRemoved, MessageID: id}, nil
}

// TruncateFrom drops every message from index onward (inclusive).
func (l *Ledger) TruncateFrom(index int) (Mutation, error) {
	if index < 0 || index > len(l.messages) {
		return Mutation{}, fmt.Errorf("truncate index %d out of range", index)
	}
	for _, m := range l.messages[index:] {
		delete(l.byID, m.MessageID)
	}
	l.messages = l.messages[:index]
	return Mutation{Kind: MutationTruncated, FromIndex: index}, nil
}

// Clone returns a ledger holding deep copies of every message, suitable for
// constructing a Snapshot event under the session mutex.
func (l *Ledger) Clone() *Ledger {
	cp := NewLedger()
	for _, m := range l.messages {
		cp.messages = append(cp.messages, m.Clone())
		cp.byID[m.MessageID] = len(cp.messages) - 1
	}
	return cp
}
