package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/engine/runtime/events"
)

func appendN(t *testing.T, s *Store, chatID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env := events.Envelope{ChatID: chatID, Seq: uint64(i + 1), Event: events.Ack{ClientRequestID: "r"}}
		require.NoError(t, s.Append(context.Background(), chatID, env))
	}
}

func TestStore_AppendRequiresChatID(t *testing.T) {
	s := New()
	err := s.Append(context.Background(), "", events.Envelope{})
	require.Error(t, err)
}

func TestStore_ListPaginatesForwardByInsertOrder(t *testing.T) {
	s := New()
	appendN(t, s, "chat-1", 4)

	page, err := s.List(context.Background(), "chat-1", "", 3)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.NotEmpty(t, page.NextCursor)

	next, err := s.List(context.Background(), "chat-1", page.NextCursor, 3)
	require.NoError(t, err)
	assert.Len(t, next.Entries, 1)
	assert.Empty(t, next.NextCursor)
}

func TestStore_ListUnknownChatIsEmpty(t *testing.T) {
	s := New()
	page, err := s.List(context.Background(), "nobody", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Empty(t, page.NextCursor)
}

func TestStore_ListRejectsBadLimitAndCursor(t *testing.T) {
	s := New()
	appendN(t, s, "chat-1", 1)

	_, err := s.List(context.Background(), "chat-1", "", 0)
	require.Error(t, err)

	_, err = s.List(context.Background(), "chat-1", "not-a-number", 10)
	require.Error(t, err)
}

func TestStore_ListKeepsChatsIsolated(t *testing.T) {
	s := New()
	appendN(t, s, "chat-1", 2)
	appendN(t, s, "chat-2", 5)

	page, err := s.List(context.Background(), "chat-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
}
