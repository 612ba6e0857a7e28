package mongo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chatcore/engine/runtime/events"
)

func TestClientAppendMarshalsEnvelope(t *testing.T) {
	t.Parallel()

	coll := &fakeCollection{insertedID: mustOID(t, "000000000000000000000001")}
	c := &client{coll: coll}

	env := events.Envelope{ChatID: "chat-1", Seq: 7, Event: events.Ack{ClientRequestID: "r1"}}
	err := c.Append(context.Background(), "chat-1", env)
	require.NoError(t, err)
	require.Len(t, coll.inserted, 1)
	assert.Equal(t, "chat-1", coll.inserted[0].ChatID)
	assert.EqualValues(t, 7, coll.inserted[0].Seq)
	assert.Equal(t, string(events.TypeAck), coll.inserted[0].Type)
}

func TestClientAppendRejectsEmptyChatID(t *testing.T) {
	t.Parallel()

	c := &client{coll: &fakeCollection{}}
	err := c.Append(context.Background(), "", events.Envelope{Event: events.Ack{}})
	require.Error(t, err)
}

func TestClientListNextCursor(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name       string
		eventCount int
		limit      int
		wantNext   string
	}
	cases := []testCase{
		{name: "fewer_than_limit", eventCount: 2, limit: 3, wantNext: ""},
		{name: "exactly_limit_no_more", eventCount: 3, limit: 3, wantNext: ""},
		{name: "more_than_limit_has_next", eventCount: 4, limit: 3, wantNext: "000000000000000000000003"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			chatID := "chat-1"
			coll := &fakeCollection{findDocs: fakeEnvelopeDocuments(chatID, tc.eventCount)}
			c := &client{coll: coll}

			docs, next, err := c.List(context.Background(), chatID, "", tc.limit)
			require.NoError(t, err)
			assert.Len(t, docs, min(tc.eventCount, tc.limit))
			assert.Equal(t, tc.wantNext, next)

			if tc.wantNext == "" {
				return
			}

			moreDocs, nextCursor, err := c.List(context.Background(), chatID, next, tc.limit)
			require.NoError(t, err)
			assert.Len(t, moreDocs, tc.eventCount-tc.limit)
			assert.Empty(t, nextCursor)
		})
	}
}

func fakeEnvelopeDocuments(chatID string, n int) []envelopeDocument {
	docs := make([]envelopeDocument, 0, n)
	for i := 1; i <= n; i++ {
		oid := bson.ObjectID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, byte(i)}
		docs = append(docs, envelopeDocument{
			ID:       oid,
			ChatID:   chatID,
			Seq:      uint64(i),
			Type:     string(events.TypeAck),
			Envelope: []byte(`{"chat_id":"` + chatID + `","seq":"1","type":"ack","client_request_id":"r"}`),
		})
	}
	return docs
}

func mustOID(t *testing.T, hex string) bson.ObjectID {
	t.Helper()
	oid, err := bson.ObjectIDFromHex(hex)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return oid
}

type fakeCollection struct {
	insertedID bson.ObjectID
	inserted   []envelopeDocument
	findDocs   []envelopeDocument
}

func (c *fakeCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	if doc, ok := document.(envelopeDocument); ok {
		c.inserted = append(c.inserted, doc)
	}
	return &mongodriver.InsertOneResult{InsertedID: c.insertedID}, nil
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	f, ok := filter.(bson.M)
	if !ok {
		return &fakeCursor{}, nil
	}

	chatID, _ := f["chat_id"].(string)
	var after bson.ObjectID
	if id, ok := f["_id"].(bson.M); ok {
		if gt, ok := id["$gt"].(bson.ObjectID); ok {
			after = gt
		}
	}

	filtered := make([]envelopeDocument, 0, len(c.findDocs))
	for _, doc := range c.findDocs {
		if doc.ChatID != chatID {
			continue
		}
		if !after.IsZero() && bytes.Compare(doc.ID[:], after[:]) <= 0 {
			continue
		}
		filtered = append(filtered, doc)
	}

	var limit int64
	for _, o := range opts {
		built, err := o.List()
		if err != nil || built == nil {
			continue
		}
		if built.Limit != nil {
			limit = *built.Limit
		}
	}
	if limit > 0 && int64(len(filtered)) > limit {
		filtered = filtered[:limit]
	}

	return &fakeCursor{docs: filtered}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{}
}

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "", nil
}

type fakeCursor struct {
	docs []envelopeDocument
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil
	}
	p, ok := val.(*envelopeDocument)
	if !ok {
		return nil
	}
	*p = c.docs[c.pos-1]
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(context.Context) error { return nil }
