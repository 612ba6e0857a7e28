// Package mongo wires trajectory.Store to the MongoDB client.
//
// Grounded on the teacher's features/runlog/mongo (a thin Store adapter
// delegating to a low-level client) and registry/store/mongo (document
// marshal/unmarshal conventions), combined here because this trajectory log
// borrows runlog's append-only/cursor-paginated shape but stores the
// session engine's own wire format (events.Envelope JSON) rather than
// runlog's hook-event payload.
package mongo

import (
	"context"
	"fmt"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/trajectory"
	clientsmongo "github.com/chatcore/engine/runtime/trajectory/mongo/clients/mongo"
)

// Store implements trajectory.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed trajectory store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errs.New(errs.BadRequest, "client is required")
	}
	return &Store{client: client}, nil
}

// Append implements trajectory.Store.
func (s *Store) Append(ctx context.Context, chatID string, env events.Envelope) error {
	return s.client.Append(ctx, chatID, env)
}

// List implements trajectory.Store.
func (s *Store) List(ctx context.Context, chatID string, cursor string, limit int) (trajectory.Page, error) {
	docs, next, err := s.client.List(ctx, chatID, cursor, limit)
	if err != nil {
		return trajectory.Page{}, err
	}

	entries := make([]*trajectory.Entry, 0, len(docs))
	for _, doc := range docs {
		var env events.Envelope
		if err := env.UnmarshalJSON(doc.Envelope); err != nil {
			return trajectory.Page{}, fmt.Errorf("decode trajectory entry %s: %w", doc.ID.Hex(), err)
		}
		entries = append(entries, &trajectory.Entry{ID: doc.ID.Hex(), ChatID: doc.ChatID, Envelope: env})
	}
	return trajectory.Page{Entries: entries, NextCursor: next}, nil
}
