package session

import (
	"context"

	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/provider"
)

// PrepareOptions mirrors prepare.Options at the session boundary, so this
// package can declare Preparer without importing package prepare (which
// itself imports session for ThreadParams/Mode/SamplingParameters — package
// prepare supplies the concrete adapter that satisfies this interface).
type PrepareOptions struct {
	PrependSystemPrompt bool
	AllowAtCommands     bool
	AllowToolPrerun     bool
	AllowedPrerunTools  map[string]bool
}

// PrepareInput bundles one turn's preparation request.
type PrepareInput struct {
	Messages []*message.ChatMessage
	Thread   ThreadParams
	Sampling SamplingParameters
	Options  PrepareOptions
}

// Preparer is the orchestrator's view of the Prompt Preparer (§4.4): a
// narrow interface so the session package never imports package prepare
// directly.
type Preparer interface {
	Prepare(ctx context.Context, in PrepareInput) (*provider.Request, error)
}
