package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, event Event) error

type Subscriber struct {
	client        *redis.Client
	logger        *zap.Logger
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	retryDelay    time.Duration
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	RetryDelay    time.Duration
}

func NewSubscriber(client *redis.Client, logger *zap.Logger, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Subscriber{
		client:        client,
		logger:        logger.With(zap.String("stream", config.Stream), zap.String("group", config.Group)),
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		retryDelay:    config.RetryDelay,
	}
}

// Start blocks consuming the stream until ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	s.logger.Info("subscriber started", zap.String("consumer", s.consumer))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
		}

		if _, err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("error reading messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
}

// Go runs Start on its own goroutine. The returned function cancels it and
// waits until it has returned.
func (s *Subscriber) Go(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("subscriber stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Subscriber) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Poll reclaims messages that have been pending for at least the retry delay,
// then reads one batch of new messages. Each message goes to the handler and
// is acknowledged only if the handler succeeds; a failed message is handed to
// the handler again by a later Poll. Poll returns how many messages were
// acknowledged.
func (s *Subscriber) Poll(ctx context.Context) (int, error) {
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.retryDelay,
		Start:    "0-0",
		Count:    s.batchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending messages: %w", err)
	}
	acked := s.dispatch(ctx, claimed)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return acked, nil
	}
	if err != nil {
		return acked, fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		acked += s.dispatch(ctx, stream.Messages)
	}
	return acked, nil
}

func (s *Subscriber) dispatch(ctx context.Context, messages []redis.XMessage) int {
	acked := 0
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			s.logger.Warn("failed to process message", zap.String("message_id", message.ID), zap.Error(err))
			continue
		}

		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			s.logger.Warn("failed to ack message", zap.String("message_id", message.ID), zap.Error(err))
			continue
		}
		acked++
	}
	return acked
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}

// DecodeData re-decodes the loosely typed Data of an event into out.
func DecodeData(event Event, out any) error {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", event.Type, err)
	}
	return nil
}
