package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultStreamMaxLen caps each stream so an idle consumer group cannot grow it without bound.
const defaultStreamMaxLen = 100000

type Publisher struct {
	client *redis.Client
	maxLen int64
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, maxLen: defaultStreamMaxLen}
}

// Publish appends an event to stream and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, stream, eventType string, data any) (string, error) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	return id, nil
}
