// Package trajectory provides a best-effort, append-only log of a session's
// published events, keyed by chat id, for after-the-fact introspection and
// reconnect recovery; events.Bus itself keeps no event history beyond each
// subscriber's bounded mailbox.
//
// Grounded on goa-ai's runtime/agent/runlog (Event/Page/Store shaped as an
// append-only, cursor-paginated log) narrowed from runlog's per-run
// RunID/AgentID/TurnID keying to this engine's chat_id/seq keying, and
// relaxed from runlog's "Append must be durable, failures surfaced" contract
// to "best-effort" (§B DOMAIN STACK): a trajectory write failure never blocks
// or fails a session turn, it is merely unobserved log history.
package trajectory

import (
	"context"
	"fmt"

	"github.com/chatcore/engine/runtime/events"
)

type (
	// Entry is a single immutable trajectory record: one bus Envelope plus
	// the opaque, store-assigned cursor position it was appended at.
	Entry struct {
		// ID is the store-assigned opaque identifier for this entry,
		// monotonically ordered within a chat.
		ID string
		// ChatID is the session this entry belongs to.
		ChatID string
		// Envelope is the event exactly as published on the session bus.
		Envelope events.Envelope
	}

	// Page is a forward page of trajectory entries.
	Page struct {
		// Entries are ordered oldest-first.
		Entries []*Entry
		// NextCursor is the cursor to pass to List for the following page.
		// It is empty when there are no further entries.
		NextCursor string
	}

	// Store is an append-only trajectory log. Implementations must preserve
	// stable append order within a chat id; cursor values are store-owned
	// and opaque to callers.
	Store interface {
		// Append stores env under chatID, assigning it an opaque ID.
		Append(ctx context.Context, chatID string, env events.Envelope) error

		// List returns the next forward page of entries for chatID. cursor
		// is an opaque value from a previous List call, or empty to start
		// from the beginning. limit must be greater than zero.
		List(ctx context.Context, chatID string, cursor string, limit int) (Page, error)
	}
)

// ErrInvalidLimit is returned by Store implementations when limit <= 0.
var ErrInvalidLimit = fmt.Errorf("trajectory: limit must be > 0")
