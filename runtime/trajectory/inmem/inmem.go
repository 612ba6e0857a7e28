// Package inmem provides an in-memory trajectory.Store, for tests and local
// development. It is not durable and loses all history on process restart.
//
// Grounded on goa-ai's runlog/inmem (a mutex-guarded map of per-key slices,
// with a monotonically increasing integer cursor), keyed here by chat id
// instead of run id.
package inmem

import (
	"context"
	"strconv"
	"sync"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/trajectory"
)

// Store implements trajectory.Store in memory.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	entries map[string][]*trajectory.Entry
}

// New returns a new in-memory trajectory store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		entries: make(map[string][]*trajectory.Entry),
	}
}

// Append implements trajectory.Store.
func (s *Store) Append(_ context.Context, chatID string, env events.Envelope) error {
	if chatID == "" {
		return errs.New(errs.BadRequest, "chat id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[chatID] + 1
	s.nextSeq[chatID] = seq

	e := &trajectory.Entry{ID: strconv.FormatInt(seq, 10), ChatID: chatID, Envelope: env}
	s.entries[chatID] = append(s.entries[chatID], e)
	return nil
}

// List implements trajectory.Store.
func (s *Store) List(_ context.Context, chatID string, cursor string, limit int) (trajectory.Page, error) {
	if chatID == "" {
		return trajectory.Page{}, errs.New(errs.BadRequest, "chat id is required")
	}
	if limit <= 0 {
		return trajectory.Page{}, trajectory.ErrInvalidLimit
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return trajectory.Page{}, errs.Wrap(errs.BadRequest, err, "invalid cursor")
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[chatID]
	if len(all) == 0 {
		return trajectory.Page{}, nil
	}

	start := 0
	if after > 0 {
		start = int(after)
		if start >= len(all) {
			return trajectory.Page{}, nil
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	entries := append([]*trajectory.Entry(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = entries[len(entries)-1].ID
	}

	return trajectory.Page{Entries: entries, NextCursor: next}, nil
}
