// Package mongo implements the low-level MongoDB client used by the
// trajectory store.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/chatcore/engine/runtime/errs"
	"github.com/chatcore/engine/runtime/events"
)

type (
	// Client exposes Mongo-backed operations for the trajectory log.
	Client interface {
		Ping(ctx context.Context) error
		Append(ctx context.Context, chatID string, env events.Envelope) error
		List(ctx context.Context, chatID string, cursor string, limit int) ([]envelopeDocument, string, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	envelopeDocument struct {
		ID       bson.ObjectID `bson:"_id,omitempty"`
		ChatID   string        `bson:"chat_id"`
		Seq      uint64        `bson:"seq"`
		Type     string        `bson:"type"`
		Envelope []byte        `bson:"envelope"`
	}
)

const (
	defaultCollection = "session_trajectory"
	defaultTimeout    = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errs.New(errs.BadRequest, "mongo client is required")
	}
	if opts.Database == "" {
		return nil, errs.New(errs.BadRequest, "database name is required")
	}
	collectionName := opts.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collectionName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: wrapper, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, chatID string, env events.Envelope) error {
	if chatID == "" {
		return errs.New(errs.BadRequest, "chat id is required")
	}

	payload, err := env.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := envelopeDocument{
		ChatID:   chatID,
		Seq:      env.Seq,
		Type:     string(env.Event.Type()),
		Envelope: payload,
	}
	_, err = c.coll.InsertOne(ctx, doc)
	return err
}

func (c *client) List(ctx context.Context, chatID string, cursor string, limit int) ([]envelopeDocument, string, error) {
	if chatID == "" {
		return nil, "", errs.New(errs.BadRequest, "chat id is required")
	}
	if limit <= 0 {
		return nil, "", errs.New(errs.BadRequest, "limit must be > 0")
	}

	filter := bson.M{"chat_id": chatID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return nil, "", errs.Wrap(errs.BadRequest, err, fmt.Sprintf("invalid cursor %q", cursor))
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var docs []envelopeDocument
	for cur.Next(ctx) {
		var doc envelopeDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(docs) > limit {
		next = docs[limit-1].ID.Hex()
		docs = docs[:limit]
	}
	return docs, next, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "chat_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
