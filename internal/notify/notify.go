// Package notify implements the change-notification bus (spec §4.9): a topic-based fan-out that tells interested
// subscribers "this user's events/streams/accesses changed" without describing what changed, an eventual-consistency
// push model for cache invalidation and live clients. The out-of-process transport uses a compact {u,t} envelope
// over a pub/sub channel, generalized from a single websocket-bound hub to a plain topic subscription any component
// (HTTP long-poll handler, permission cache invalidator, webhook dispatcher) can use.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Topic names the three change classes a caller can subscribe to, matching spec §4.9's `serverReceivedChangesMeta`
// hints.
type Topic string

// Recognized notification topics.
const (
	EventsChanged   Topic = "events-changed"
	StreamsChanged  Topic = "streams-changed"
	AccessesChanged Topic = "accesses-changed"
)

// Message is one change notification delivered to a subscriber.
type Message struct {
	UserID string `json:"userId"`
	Topic  Topic  `json:"topic"`
}

// envelope is the JSON structure published to the Valkey channel, a compact {u, t} shape carrying a Message
// instead of an arbitrary dispatch payload.
type envelope struct {
	UserID string `json:"u"`
	Topic  Topic  `json:"t"`
}

const channelPrefix = "pryv:notify:"

func channelName(userID string) string {
	return channelPrefix + userID
}

// Emitter is the in-process half of the bus: a per-user set of subscriber channels, guarded by a mutex. It alone
// satisfies the bus contract when no out-of-process transport is configured (a single-node deployment has no other
// process to notify).
type Emitter struct {
	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}
}

// NewEmitter creates an empty in-process emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string]map[chan Message]struct{})}
}

// Subscribe registers a new listener for userID's notifications. The returned channel is buffered so a slow reader
// never blocks Publish; cancel removes and closes the channel when the caller is done (e.g. the HTTP connection
// closed).
func (e *Emitter) Subscribe(userID string) (ch <-chan Message, cancel func()) {
	c := make(chan Message, 16)

	e.mu.Lock()
	if e.subs[userID] == nil {
		e.subs[userID] = make(map[chan Message]struct{})
	}
	e.subs[userID][c] = struct{}{}
	e.mu.Unlock()

	return c, func() {
		e.mu.Lock()
		delete(e.subs[userID], c)
		if len(e.subs[userID]) == 0 {
			delete(e.subs, userID)
		}
		e.mu.Unlock()
		close(c)
	}
}

// publishLocal fans a message out to every local subscriber of userID. A full subscriber channel drops the message
// rather than blocking the publisher — notifications are a "something changed, go re-fetch" hint, not a durable
// delivery log, so a dropped notification is harmless as long as the next one eventually lands.
func (e *Emitter) publishLocal(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.subs[msg.UserID] {
		select {
		case c <- msg:
		default:
		}
	}
}

// Bus combines the in-process Emitter with an optional Valkey pub/sub transport, so a Publish call on one process
// reaches subscribers registered on any other process in the deployment. tcpMessaging.enabled (spec §6) selects
// whether the Valkey leg is wired at all; with it disabled, Bus behaves exactly like a bare Emitter.
type Bus struct {
	*Emitter
	rdb     *redis.Client
	enabled bool
	log     zerolog.Logger
}

// NewBus creates a notification bus. When enabled is false, rdb may be nil: Publish only fans out in-process and Run
// is a no-op.
func NewBus(rdb *redis.Client, enabled bool, logger zerolog.Logger) *Bus {
	return &Bus{Emitter: NewEmitter(), rdb: rdb, enabled: enabled, log: logger}
}

// Publish notifies every subscriber of userID that topic changed, locally and (when enabled) across the Valkey
// transport so other processes' subscribers hear about it too.
func (b *Bus) Publish(ctx context.Context, userID string, topic Topic) error {
	b.publishLocal(Message{UserID: userID, Topic: topic})
	if !b.enabled {
		return nil
	}
	payload, err := json.Marshal(envelope{UserID: userID, Topic: topic})
	if err != nil {
		return fmt.Errorf("marshal notify envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish notify envelope: %w", err)
	}
	return nil
}

// Run subscribes to the cross-process Valkey channel and fans every received message into the local Emitter, so
// subscribers on this process hear about changes published by any other process. It blocks until ctx is cancelled or
// the subscription errors. Callers run it in its own goroutine at boot; it is a no-op when the bus was built with
// enabled=false.
func (b *Bus) Run(ctx context.Context) error {
	if !b.enabled {
		<-ctx.Done()
		return nil
	}

	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn().Err(err).Msg("invalid notify envelope")
				continue
			}
			b.publishLocal(Message{UserID: env.UserID, Topic: env.Topic})
		}
	}
}
