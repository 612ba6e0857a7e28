package prepare

import (
	"context"

	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/session"
)

// SessionPreparer adapts a *Preparer to the session.Preparer interface the
// orchestrator depends on, translating session.PrepareInput/Options into
// this package's own Input/Options (package prepare is free to import
// session; session cannot import prepare back, so the adapter lives here).
type SessionPreparer struct {
	*Preparer
}

// Prepare implements session.Preparer.
func (p SessionPreparer) Prepare(ctx context.Context, in session.PrepareInput) (*provider.Request, error) {
	out, err := p.Preparer.Prepare(ctx, Input{
		Messages: in.Messages,
		Thread:   in.Thread,
		Sampling: in.Sampling,
		Options: Options{
			PrependSystemPrompt: in.Options.PrependSystemPrompt,
			AllowAtCommands:     in.Options.AllowAtCommands,
			AllowToolPrerun:     in.Options.AllowToolPrerun,
			AllowedPrerunTools:  in.Options.AllowedPrerunTools,
		},
	})
	if err != nil {
		return nil, err
	}
	return out.Request, nil
}
