// Package mongostore implements the session store on MongoDB. Field-level
// merge maps to $set, counters to $inc, stroke append to $push, and live
// subscriptions to a per-document change stream (requires a replica set).
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// touchedField is a BSON date maintained on every write so a TTL index can
// expire idle sessions without the core ever deleting them.
const touchedField = "_touchedAt"

// Config holds connection settings for the Mongo-backed store.
type Config struct {
	URI        string
	Database   string
	Collection string
	IdleTTL    time.Duration
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		URI:        "mongodb://localhost:27017",
		Database:   "trivia",
		Collection: "minigame_sessions",
		IdleTTL:    6 * time.Hour,
	}
}

// Mongostore is a store.Store backed by a MongoDB collection.
type Mongostore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects to MongoDB and prepares the session collection, including the
// idle-expiry TTL index when configured.
func New(ctx context.Context, cfg Config) (*Mongostore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	m := &Mongostore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}

	if cfg.IdleTTL > 0 {
		_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: touchedField, Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cfg.IdleTTL.Seconds())),
		})
		if err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("create ttl index: %w", err)
		}
	}

	log.Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Dur("idle_ttl", cfg.IdleTTL).
		Msg("mongo session store ready")

	return m, nil
}

func (m *Mongostore) Create(ctx context.Context, id string, doc store.Document) error {
	replacement := toBSON(doc)
	replacement["_id"] = id
	replacement[touchedField] = time.Now().UTC()

	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, replacement, options.Replace().SetUpsert(true))
	if err != nil {
		return &store.WriteError{Op: "create", ID: id, Err: err}
	}
	return nil
}

func (m *Mongostore) CreateIfAbsent(ctx context.Context, id string, doc store.Document) (bool, error) {
	insert := toBSON(doc)
	insert[touchedField] = time.Now().UTC()

	res, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": insert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, &store.WriteError{Op: "create", ID: id, Err: err}
	}
	return res.UpsertedCount == 1, nil
}

func (m *Mongostore) Update(ctx context.Context, id string, fields store.Document) error {
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":         toBSON(fields),
		"$currentDate": bson.M{touchedField: true},
	})
	if err != nil {
		return &store.WriteError{Op: "update", ID: id, Err: err}
	}
	if res.MatchedCount == 0 {
		return &store.WriteError{Op: "update", ID: id, Err: store.ErrNotFound}
	}
	return nil
}

func (m *Mongostore) Increment(ctx context.Context, id string, field string, delta int64) (int64, error) {
	var updated bson.M
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc":         bson.M{field: delta},
			"$currentDate": bson.M{touchedField: true},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, &store.WriteError{Op: "increment", ID: id, Err: store.ErrNotFound}
		}
		return 0, &store.WriteError{Op: "increment", ID: id, Err: err}
	}
	return asInt64(updated[field]), nil
}

func (m *Mongostore) Append(ctx context.Context, id string, field string, value any) error {
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push":        bson.M{field: value},
		"$currentDate": bson.M{touchedField: true},
	})
	if err != nil {
		return &store.WriteError{Op: "append", ID: id, Err: err}
	}
	if res.MatchedCount == 0 {
		return &store.WriteError{Op: "append", ID: id, Err: store.ErrNotFound}
	}
	return nil
}

func (m *Mongostore) Get(ctx context.Context, id string) (store.Document, error) {
	var raw bson.M
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, &store.ReadError{Op: "get", ID: id, Err: err}
	}
	return fromBSON(raw), nil
}

func (m *Mongostore) Delete(ctx context.Context, id string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return &store.WriteError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func (m *Mongostore) Subscribe(ctx context.Context, id string, fn store.OnChange) (store.Unsubscribe, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: id}}}},
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	cs, err := m.coll.Watch(streamCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, &store.ReadError{Op: "subscribe", ID: id, Err: err}
	}

	var closed atomic.Bool
	emit := func(doc store.Document) {
		if !closed.Load() {
			fn(doc)
		}
	}

	go func() {
		defer cs.Close(context.Background())

		// First delivery reflects the state at subscription time; the
		// stream was opened beforehand so no write is missed in between.
		initial, err := m.Get(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("session_id", id).Msg("initial session read failed")
		}
		emit(initial)

		for cs.Next(streamCtx) {
			var event struct {
				OperationType string `bson:"operationType"`
				FullDocument  bson.M `bson:"fullDocument"`
			}
			if err := cs.Decode(&event); err != nil {
				log.Error().Err(err).Str("session_id", id).Msg("decode change event failed")
				continue
			}
			switch event.OperationType {
			case "delete", "invalidate":
				emit(nil)
			default:
				emit(fromBSON(event.FullDocument))
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Error().Err(err).Str("session_id", id).Msg("change stream terminated")
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}, nil
}

func (m *Mongostore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// toBSON converts a JSON-typed document into a bson.M for writing.
func toBSON(doc store.Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// fromBSON normalizes a decoded document back to JSON-compatible values and
// strips the storage-internal fields.
func fromBSON(raw bson.M) store.Document {
	if raw == nil {
		return nil
	}
	doc := make(store.Document, len(raw))
	for k, v := range raw {
		if k == "_id" || k == touchedField {
			continue
		}
		doc[k] = normalize(v)
	}
	return doc
}

func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalize(e)
		}
		return m
	case bson.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalize(e)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalize(e)
		}
		return s
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}
