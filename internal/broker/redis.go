package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

const (
	streamPrefix = "events:"
	eventField   = "event"
	receiveBatch = 32
	streamMaxLen = 100000
)

// RedisBroker carries events over Redis Streams. Each topic is one stream;
// each subscription tracks its own last-seen entry ID, so subscriptions are
// independent and events are durable until trimmed. Selector filtering is
// applied client-side on receipt.
type RedisBroker struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedisBroker connects to the broker at addr (host:port).
func NewRedisBroker(addr string, logger arbor.ILogger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach broker at %s: %w", addr, err)
	}
	return &RedisBroker{client: client, logger: logger}, nil
}

func streamKey(topic string) string {
	return streamPrefix + topic
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, ev *models.Event) error {
	copied := *ev
	copied.Topic = topic
	data, err := copied.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(topic),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{eventField: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(topic, selector string) (Subscription, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	// A new subscription sees only events published after it opens.
	lastID := "0-0"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := b.client.XRevRangeN(ctx, streamKey(topic), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	if len(entries) > 0 {
		lastID = entries[0].ID
	}
	return &redisSub{
		client:   b.client,
		stream:   streamKey(topic),
		selector: sel,
		lastID:   lastID,
		logger:   b.logger,
	}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	client   *redis.Client
	stream   string
	selector *Selector
	lastID   string
	logger   arbor.ILogger
}

// Receive reads forward from the last-seen entry, skipping events the
// selector rejects, until a match arrives or the timeout lapses.
func (s *redisSub) Receive(timeout time.Duration) (*models.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		block := time.Duration(-1) // poll
		if timeout > 0 {
			block = time.Until(deadline)
			if block <= 0 {
				return nil, ErrNoEvent
			}
		}
		streams, err := s.client.XRead(context.Background(), &redis.XReadArgs{
			Streams: []string{s.stream, s.lastID},
			Count:   receiveBatch,
			Block:   block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoEvent
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.stream, err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.lastID = msg.ID
				raw, ok := msg.Values[eventField].(string)
				if !ok {
					s.logger.Warn().
						Str("stream", s.stream).
						Str("id", msg.ID).
						Msg("Stream entry without event field, skipping")
					continue
				}
				ev, err := models.UnmarshalEvent([]byte(raw))
				if err != nil {
					s.logger.Warn().
						Str("stream", s.stream).
						Str("id", msg.ID).
						Err(err).
						Msg("Undecodable event, skipping")
					continue
				}
				if s.selector.Matches(ev.Headers()) {
					return ev, nil
				}
			}
		}
		if timeout <= 0 {
			return nil, ErrNoEvent
		}
	}
}

func (s *redisSub) Close() error {
	return nil
}
