package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

type testPayload struct {
	Value string `json:"value"`
}

func TestPublishAppendsEntry(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	entryID, err := b.Publish(ctx, "university.events", "enrollment.created", testPayload{Value: "x"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if entryID == "" {
		t.Fatal("no entry id returned")
	}

	entries, err := b.Client().XRange(ctx, "university.events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Values["key"] != "enrollment.created" {
		t.Fatalf("routing key = %v", entries[0].Values["key"])
	}
	var decoded testPayload
	if err := json.Unmarshal([]byte(entries[0].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if decoded.Value != "x" {
		t.Fatalf("payload = %+v", decoded)
	}
}

func consumeUntil(t *testing.T, sub *Subscriber, handle Handler, stop func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sub.Run(ctx, handle)
	}()
	deadline := time.After(5 * time.Second)
	for !stop() {
		select {
		case <-deadline:
			t.Fatal("condition not reached before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestSubscriberDeliversAndAcks(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, "university.events", "enrollment.created", testPayload{Value: "one"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var handled int32
	sub := NewSubscriber(b, "university.events", "notifications.enrollment", "c1", "enrollment.created")
	consumeUntil(t, sub, func(ctx context.Context, msg Message) error {
		if msg.Key != "enrollment.created" {
			t.Errorf("key = %q", msg.Key)
		}
		atomic.AddInt32(&handled, 1)
		return nil
	}, func() bool { return atomic.LoadInt32(&handled) >= 1 })

	pending, err := b.Client().XPending(ctx, "university.events", "notifications.enrollment").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("entry not acked: %d pending", pending.Count)
	}
	if got := atomic.LoadInt32(&handled); got != 1 {
		t.Fatalf("handled %d times, want exactly 1", got)
	}
}

func TestSubscriberRedeliversOnHandlerError(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, "university.events", "enrollment.created", testPayload{Value: "retry"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var attempts int32
	sub := NewSubscriber(b, "university.events", "notifications.enrollment", "c1", "enrollment.created")
	consumeUntil(t, sub, func(ctx context.Context, msg Message) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	}, func() bool { return atomic.LoadInt32(&attempts) >= 2 })

	if got := atomic.LoadInt32(&attempts); got < 2 {
		t.Fatalf("attempts = %d, want at least 2", got)
	}
	pending, err := b.Client().XPending(ctx, "university.events", "notifications.enrollment").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("entry not acked after successful retry: %d pending", pending.Count)
	}
}

func TestSubscriberSkipsForeignRoutingKeys(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, "university.events", "course.updated", testPayload{Value: "other"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, "university.events", "enrollment.created", testPayload{Value: "mine"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got []string
	var count int32
	sub := NewSubscriber(b, "university.events", "notifications.enrollment", "c1", "enrollment.created")
	consumeUntil(t, sub, func(ctx context.Context, msg Message) error {
		got = append(got, msg.Key)
		atomic.AddInt32(&count, 1)
		return nil
	}, func() bool { return atomic.LoadInt32(&count) >= 1 })

	if len(got) != 1 || got[0] != "enrollment.created" {
		t.Fatalf("delivered keys = %v, want only enrollment.created", got)
	}
	// The foreign entry is acked too so it never redelivers to this group.
	pending, err := b.Client().XPending(ctx, "university.events", "notifications.enrollment").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("foreign entry left pending: %d", pending.Count)
	}
}

func TestTwoGroupsEachSeeTheStream(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	if _, err := b.Publish(ctx, "university.events", "enrollment.created", testPayload{Value: "broadcast"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, group := range []string{"notifications.enrollment", "analytics.enrollment"} {
		var handled int32
		sub := NewSubscriber(b, "university.events", group, "c1", "enrollment.created")
		consumeUntil(t, sub, func(ctx context.Context, msg Message) error {
			atomic.AddInt32(&handled, 1)
			return nil
		}, func() bool { return atomic.LoadInt32(&handled) >= 1 })
		if atomic.LoadInt32(&handled) != 1 {
			t.Fatalf("group %s handled %d", group, handled)
		}
	}
}
