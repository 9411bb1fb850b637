package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestEmitter_SubscribePublish(t *testing.T) {
	t.Parallel()
	e := NewEmitter()

	ch, cancel := e.Subscribe("user-1")
	defer cancel()

	e.publishLocal(Message{UserID: "user-1", Topic: EventsChanged})

	select {
	case msg := <-ch:
		if msg.Topic != EventsChanged {
			t.Errorf("Topic = %q, want %q", msg.Topic, EventsChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local notification")
	}
}

func TestEmitter_PublishToOtherUserDoesNotLeak(t *testing.T) {
	t.Parallel()
	e := NewEmitter()

	ch, cancel := e.Subscribe("user-1")
	defer cancel()

	e.publishLocal(Message{UserID: "user-2", Topic: StreamsChanged})

	select {
	case msg := <-ch:
		t.Fatalf("unexpected notification for unrelated user: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitter_CancelStopsDelivery(t *testing.T) {
	t.Parallel()
	e := NewEmitter()

	_, cancel := e.Subscribe("user-1")
	cancel()

	// publishLocal must not panic or block once every subscriber for user-1 has cancelled.
	e.publishLocal(Message{UserID: "user-1", Topic: AccessesChanged})
}

func TestBus_Disabled_LocalOnly(t *testing.T) {
	t.Parallel()
	b := NewBus(nil, false, zerolog.Nop())

	ch, cancel := b.Subscribe("user-1")
	defer cancel()

	if err := b.Publish(context.Background(), "user-1", EventsChanged); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local notification with disabled transport")
	}
}

func TestBus_CrossProcessDelivery(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	publisherRDB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = publisherRDB.Close() }()
	subscriberRDB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = subscriberRDB.Close() }()

	publisherBus := NewBus(publisherRDB, true, zerolog.Nop())
	subscriberBus := NewBus(subscriberRDB, true, zerolog.Nop())

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() { _ = subscriberBus.Run(ctx) }()

	// Give the PSUBSCRIBE a moment to register before publishing.
	time.Sleep(100 * time.Millisecond)

	ch, cancel := subscriberBus.Subscribe("user-1")
	defer cancel()

	if err := publisherBus.Publish(context.Background(), "user-1", EventsChanged); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-ch:
		if msg.UserID != "user-1" || msg.Topic != EventsChanged {
			t.Errorf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-process notification")
	}
}
