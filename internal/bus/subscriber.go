package bus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"uniplex.org/internal/obs"
)

// Message is one delivered stream entry.
type Message struct {
	ID      string
	Key     string
	Payload []byte
}

// Handler processes one message. Returning an error leaves the entry
// pending; it will be redelivered on the next pass.
type Handler func(ctx context.Context, msg Message) error

// Subscriber reads one stream through a consumer group. Each group owns an
// independent cursor, so several services can consume the same stream
// without stealing each other's entries.
type Subscriber struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	keys     []string
}

// NewSubscriber binds a consumer group to a stream. keys restricts delivery
// to entries whose routing key matches; an empty list accepts everything.
func NewSubscriber(b *Bus, stream, group, consumer string, keys ...string) *Subscriber {
	return &Subscriber{
		client:   b.client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		keys:     keys,
	}
}

// Run consumes until ctx is cancelled. Each iteration first drains entries
// already pending for this consumer (delivered but never acked, typically
// after a crash), then blocks on new ones. Entries are acked only after the
// handler returns nil.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	readPending := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cursor := ">"
		if readPending {
			cursor = "0"
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, cursor},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			readPending = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			obs.Log(map[string]any{
				"level":  "error",
				"msg":    "stream read failed",
				"stream": s.stream,
				"group":  s.group,
				"error":  err.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}
		delivered := false
		for _, str := range streams {
			for _, entry := range str.Messages {
				delivered = true
				if err := s.dispatch(ctx, entry, handle); err != nil {
					// Leave the entry pending and back off before the
					// re-read so a broken downstream is not hammered.
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(2 * time.Second):
					}
					readPending = true
					continue
				}
			}
		}
		if readPending && !delivered {
			readPending = false
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, entry redis.XMessage, handle Handler) error {
	msg := decode(entry)
	if !s.matches(msg.Key) {
		// Not addressed to this group; ack so it never redelivers here.
		return s.ack(ctx, entry.ID)
	}
	if err := handle(ctx, msg); err != nil {
		obs.Log(map[string]any{
			"level":  "error",
			"msg":    "message handler failed",
			"stream": s.stream,
			"group":  s.group,
			"entry":  entry.ID,
			"key":    msg.Key,
			"error":  err.Error(),
		})
		return err
	}
	return s.ack(ctx, entry.ID)
}

func (s *Subscriber) ack(ctx context.Context, entryID string) error {
	if err := s.client.XAck(ctx, s.stream, s.group, entryID).Err(); err != nil {
		obs.Log(map[string]any{
			"level":  "error",
			"msg":    "ack failed",
			"stream": s.stream,
			"group":  s.group,
			"entry":  entryID,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}

func (s *Subscriber) matches(key string) bool {
	if len(s.keys) == 0 {
		return true
	}
	for _, k := range s.keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// ensureGroup creates the stream and group if they do not exist yet.
// Publisher and consumer start in either order, so creation races are
// expected and BUSYGROUP is not an error.
func (s *Subscriber) ensureGroup(ctx context.Context) error {
	for {
		err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
		if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		obs.Log(map[string]any{
			"level":  "warn",
			"msg":    "consumer group create failed, retrying",
			"stream": s.stream,
			"group":  s.group,
			"error":  err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func decode(entry redis.XMessage) Message {
	msg := Message{ID: entry.ID}
	if v, ok := entry.Values["key"].(string); ok {
		msg.Key = v
	}
	if v, ok := entry.Values["payload"].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}
