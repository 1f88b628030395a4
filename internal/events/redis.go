package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "attendance:"

// RedisBroker fans out record events over Redis Pub/Sub so every API
// instance sees every accepted record.
type RedisBroker struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisBroker builds a broker on an existing redis client.
func NewRedisBroker(client *redis.Client, log zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

// Publish sends the event to every topic channel as JSON.
func (b *RedisBroker) Publish(ctx context.Context, evt RecordEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	for _, topic := range evt.Topics() {
		if err := b.client.Publish(ctx, channelPrefix+topic, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe streams events for one topic until the release function is called
// or the context is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan RecordEvent, func(), error) {
	sub := b.client.Subscribe(ctx, channelPrefix+topic)
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan RecordEvent, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt RecordEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn().Err(err).Str("topic", topic).Msg("bad event payload")
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
