// Package redisstore implements the session store on Redis. Each session is
// a hash with JSON-encoded field values, so field-level merge maps to HSET
// and counters to HINCRBY. Change notification uses a per-session pub/sub
// channel carrying a ping; subscribers re-read the hash, which always yields
// the latest state. Idle expiry rides on the key TTL, refreshed per write.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// Config holds connection settings for the Redis-backed store.
type Config struct {
	Addr     string
	Password string
	DB       int
	IdleTTL  time.Duration
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		Addr:    "localhost:6379",
		IdleTTL: 6 * time.Hour,
	}
}

// updateScript merges fields into an existing hash, refusing to create a
// partial document. ARGV[1] is the TTL in seconds, the rest alternates
// field/value.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
if tonumber(ARGV[1]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
redis.call('PUBLISH', KEYS[2], '1')
return 1
`)

// incrementScript atomically increments a JSON-number field.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return redis.error_reply('no document')
end
local v = redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[3])
if tonumber(ARGV[1]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
redis.call('PUBLISH', KEYS[2], '1')
return v
`)

// appendScript appends one JSON value to a JSON-array field.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return redis.error_reply('no document')
end
local cur = redis.call('HGET', KEYS[1], ARGV[2])
local arr
if cur then
	arr = cjson.decode(cur)
else
	arr = {}
end
arr[#arr + 1] = cjson.decode(ARGV[3])
redis.call('HSET', KEYS[1], ARGV[2], cjson.encode(arr))
if tonumber(ARGV[1]) > 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[1])
end
redis.call('PUBLISH', KEYS[2], '1')
return #arr
`)

// Redisstore is a store.Store backed by Redis hashes and pub/sub.
type Redisstore struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Redisstore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Dur("idle_ttl", cfg.IdleTTL).Msg("redis session store ready")
	return &Redisstore{client: client, ttl: cfg.IdleTTL}, nil
}

func docKey(id string) string     { return "mg:sess:" + id }
func channelKey(id string) string { return "mg:sess:" + id + ":events" }

func (r *Redisstore) ttlSeconds() string {
	return strconv.Itoa(int(r.ttl.Seconds()))
}

func encodeFields(doc store.Document) (map[string]string, error) {
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = string(raw)
	}
	return out, nil
}

func (r *Redisstore) Create(ctx context.Context, id string, doc store.Document) error {
	fields, err := encodeFields(doc)
	if err != nil {
		return &store.WriteError{Op: "create", ID: id, Err: err}
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, docKey(id))
	pipe.HSet(ctx, docKey(id), fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, docKey(id), r.ttl)
	}
	pipe.Publish(ctx, channelKey(id), "1")
	if _, err := pipe.Exec(ctx); err != nil {
		return &store.WriteError{Op: "create", ID: id, Err: err}
	}
	return nil
}

func (r *Redisstore) CreateIfAbsent(ctx context.Context, id string, doc store.Document) (bool, error) {
	fields, err := encodeFields(doc)
	if err != nil {
		return false, &store.WriteError{Op: "create", ID: id, Err: err}
	}

	created := false
	txn := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, docKey(id)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, docKey(id), fields)
			if r.ttl > 0 {
				pipe.Expire(ctx, docKey(id), r.ttl)
			}
			pipe.Publish(ctx, channelKey(id), "1")
			return nil
		})
		if err == nil {
			created = true
		}
		return err
	}

	// Retry on concurrent creation races.
	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txn, docKey(id))
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false, &store.WriteError{Op: "create", ID: id, Err: err}
		}
	}
	return false, &store.WriteError{Op: "create", ID: id, Err: errors.New("too many conflicts")}
}

func (r *Redisstore) Update(ctx context.Context, id string, fields store.Document) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return &store.WriteError{Op: "update", ID: id, Err: err}
	}
	argv := make([]any, 0, 1+2*len(encoded))
	argv = append(argv, r.ttlSeconds())
	for k, v := range encoded {
		argv = append(argv, k, v)
	}

	n, err := updateScript.Run(ctx, r.client, []string{docKey(id), channelKey(id)}, argv...).Int()
	if err != nil {
		return &store.WriteError{Op: "update", ID: id, Err: err}
	}
	if n == 0 {
		return &store.WriteError{Op: "update", ID: id, Err: store.ErrNotFound}
	}
	return nil
}

func (r *Redisstore) Increment(ctx context.Context, id string, field string, delta int64) (int64, error) {
	v, err := incrementScript.Run(ctx, r.client,
		[]string{docKey(id), channelKey(id)},
		r.ttlSeconds(), field, delta,
	).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "no document") {
			return 0, &store.WriteError{Op: "increment", ID: id, Err: store.ErrNotFound}
		}
		return 0, &store.WriteError{Op: "increment", ID: id, Err: err}
	}
	return v, nil
}

func (r *Redisstore) Append(ctx context.Context, id string, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &store.WriteError{Op: "append", ID: id, Err: err}
	}
	_, err = appendScript.Run(ctx, r.client,
		[]string{docKey(id), channelKey(id)},
		r.ttlSeconds(), field, string(raw),
	).Int64()
	if err != nil {
		if strings.Contains(err.Error(), "no document") {
			return &store.WriteError{Op: "append", ID: id, Err: store.ErrNotFound}
		}
		return &store.WriteError{Op: "append", ID: id, Err: err}
	}
	return nil
}

func (r *Redisstore) Get(ctx context.Context, id string) (store.Document, error) {
	raw, err := r.client.HGetAll(ctx, docKey(id)).Result()
	if err != nil {
		return nil, &store.ReadError{Op: "get", ID: id, Err: err}
	}
	if len(raw) == 0 {
		return nil, store.ErrNotFound
	}
	doc := make(store.Document, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, &store.ReadError{Op: "get", ID: id, Err: fmt.Errorf("field %q: %w", k, err)}
		}
		doc[k] = decoded
	}
	return doc, nil
}

func (r *Redisstore) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, docKey(id))
	pipe.Publish(ctx, channelKey(id), "1")
	if _, err := pipe.Exec(ctx); err != nil {
		return &store.WriteError{Op: "delete", ID: id, Err: err}
	}
	return nil
}

func (r *Redisstore) Subscribe(ctx context.Context, id string, fn store.OnChange) (store.Unsubscribe, error) {
	pubsub := r.client.Subscribe(context.Background(), channelKey(id))
	// Force the subscription to be established before the initial read so
	// no write lands between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, &store.ReadError{Op: "subscribe", ID: id, Err: err}
	}

	var closed atomic.Bool
	emit := func(doc store.Document) {
		if !closed.Load() {
			fn(doc)
		}
	}

	readCurrent := func() store.Document {
		doc, err := r.Get(context.Background(), id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("session_id", id).Msg("session re-read failed")
		}
		return doc
	}

	go func() {
		emit(readCurrent())
		for range pubsub.Channel() {
			emit(readCurrent())
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			pubsub.Close()
		})
	}, nil
}

func (r *Redisstore) Close(ctx context.Context) error {
	return r.client.Close()
}
