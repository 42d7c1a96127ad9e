package durable

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventBus delivers external events into waiting workflow runs. Publish is
// called by application code (often from an arbor task) to wake a run
// blocked in Context.WaitEvent; Poll is called by Context itself and must
// not block.
type EventBus interface {
	Publish(eventID string, runID RunID, payload json.RawMessage)
	Poll(eventID string, runID RunID) (json.RawMessage, bool)
}

// MemoryBus is an in-process EventBus backed by a map, durable only for
// the life of the process. Published payloads are retained until Poll
// observes them, so a Publish that happens before the matching WaitEvent
// is not lost.
type MemoryBus struct {
	mu      sync.Mutex
	pending map[string]json.RawMessage
}

// NewMemoryBus builds an empty in-process EventBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{pending: make(map[string]json.RawMessage)}
}

func busKey(eventID string, runID RunID) string { return eventID + "\x00" + runID }

func (b *MemoryBus) Publish(eventID string, runID RunID, payload json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[busKey(eventID, runID)] = payload
}

func (b *MemoryBus) Poll(eventID string, runID RunID) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := busKey(eventID, runID)
	payload, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	return payload, ok
}

// busEnvelope is what travels over the Redis pub/sub channel: Publish
// wraps the payload with enough addressing to demultiplex it back onto
// the right eventID/runID key on the receiving end.
type busEnvelope struct {
	EventID string          `json:"eventId"`
	RunID   RunID           `json:"runId"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus is a cross-process EventBus: Publish both writes a retention
// key (so a Poll on a bus instance that wasn't yet subscribed when the
// event fired can still find it) and publishes to a shared channel (so
// already-waiting instances see it immediately without polling Redis).
// Subscribe opens its own dedicated connection outside the client's
// shared command pool, the same isolation a Duplicate()'d connection
// would give a blocking command — go-redis allocates it internally.
type RedisBus struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]json.RawMessage

	cancel context.CancelFunc
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithRedisBusLogger sets the logger used for subscription lifecycle and
// publish/poll failures, which the EventBus interface has no return value
// to surface.
func WithRedisBusLogger(log zerolog.Logger) RedisBusOption {
	return func(b *RedisBus) { b.log = log }
}

// NewRedisBus wraps client, namespacing keys and its pub/sub channel under
// prefix, and starts a background subscriber that feeds Poll's local
// cache. Call Close when done to stop the subscriber.
func NewRedisBus(client *redis.Client, prefix string, opts ...RedisBusOption) *RedisBus {
	b := &RedisBus{
		client:  client,
		prefix:  prefix,
		channel: prefix + "bus",
		ttl:     10 * time.Minute,
		log:     zerolog.Nop(),
		pending: make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	pubsub := client.Subscribe(ctx, b.channel)
	go b.consume(ctx, pubsub)
	return b
}

func (b *RedisBus) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env busEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Error().Err(err).Msg("durable: redis bus: malformed envelope")
				continue
			}
			b.mu.Lock()
			b.pending[busKey(env.EventID, env.RunID)] = env.Payload
			b.mu.Unlock()
		}
	}
}

func (b *RedisBus) redisKey(eventID string, runID RunID) string {
	return b.prefix + "msg:" + busKey(eventID, runID)
}

// Publish persists payload under a retention key and broadcasts it on the
// shared channel. Both calls use a background context since EventBus's
// interface gives Publish no way to accept one or report failure; errors
// are logged instead.
func (b *RedisBus) Publish(eventID string, runID RunID, payload json.RawMessage) {
	ctx := context.Background()
	if err := b.client.Set(ctx, b.redisKey(eventID, runID), []byte(payload), b.ttl).Err(); err != nil {
		b.log.Error().Err(err).Str("event", eventID).Str("run", runID).Msg("durable: redis bus: publish retention write failed")
	}
	env, err := json.Marshal(busEnvelope{EventID: eventID, RunID: runID, Payload: payload})
	if err != nil {
		b.log.Error().Err(err).Msg("durable: redis bus: marshal envelope failed")
		return
	}
	if err := b.client.Publish(ctx, b.channel, env).Err(); err != nil {
		b.log.Error().Err(err).Str("event", eventID).Str("run", runID).Msg("durable: redis bus: publish broadcast failed")
	}
}

// Poll checks the local cache fed by the subscriber first, falling back to
// a direct Redis read for an event published before this instance
// subscribed (or by a different process entirely).
func (b *RedisBus) Poll(eventID string, runID RunID) (json.RawMessage, bool) {
	key := busKey(eventID, runID)
	b.mu.Lock()
	payload, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if ok {
		return payload, true
	}

	raw, err := b.client.GetDel(context.Background(), b.redisKey(eventID, runID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		b.log.Error().Err(err).Str("event", eventID).Str("run", runID).Msg("durable: redis bus: poll fallback read failed")
		return nil, false
	}
	return json.RawMessage(raw), true
}

// Close stops the background subscriber. Safe to call once.
func (b *RedisBus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}
