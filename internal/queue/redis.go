package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
)

// RedisQueue implements MessageQueue using Redis Streams.
// It uses consumer groups for reliable message processing with acknowledgment.
type RedisQueue struct {
	client        *redis.Client
	streamKey     string
	consumerGroup string
	consumerName  string
}

// RedisConfig holds configuration for creating a RedisQueue.
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string

	// Password is the Redis password (optional)
	Password string

	// DB is the Redis database number (default: 0)
	DB int

	// StreamKey is the Redis stream name
	StreamKey string

	// ConsumerGroup is the consumer group name
	ConsumerGroup string

	// ConsumerName is the consumer name within the group
	ConsumerName string

	// CreateIfNotExists creates the stream and consumer group if they don't exist
	CreateIfNotExists bool
}

// NewRedisQueue creates a new RedisQueue instance.
// The caller is responsible for calling Close() when done.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.StreamKey == "" {
		return nil, fmt.Errorf("stream key is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if cfg.ConsumerName == "" {
		return nil, fmt.Errorf("consumer name is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	q := &RedisQueue{
		client:        client,
		streamKey:     cfg.StreamKey,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
	}

	if cfg.CreateIfNotExists {
		// MKSTREAM creates the stream; "$" means the group only sees new messages.
		err := client.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.ConsumerGroup, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			client.Close()
			return nil, fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	return q, nil
}

// Publish appends a message to the Redis stream.
func (q *RedisQueue) Publish(ctx context.Context, msg *ReportUploaded) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: q.streamKey,
		Values: map[string]interface{}{
			"data":      string(data),
			"repo":      msg.Service + "/" + msg.Owner + "/" + msg.Repo,
			"report_id": msg.ReportID,
		},
	}

	if _, err := q.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish message to redis stream: %w", err)
	}

	return nil
}

// Subscribe consumes messages from the stream through the consumer group.
// Messages whose handler fails stay pending and are redelivered.
// This method blocks until the context is cancelled.
func (q *RedisQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	logger := logctx.FromContext(ctx).With().Str("stream", q.streamKey).Logger()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// ">" reads only messages never delivered to another consumer.
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.consumerGroup,
			Consumer: q.consumerName,
			Streams:  []string{q.streamKey, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error().Err(err).Msg("failed to read from redis stream")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := q.processMessage(ctx, message, handler); err != nil {
					logger.Error().Err(err).Str("message_id", message.ID).Msg("failed to process message")
				}
			}
		}
	}
}

// processMessage handles a single message from the stream.
func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, handler Handler) error {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		// Malformed; ack so it leaves the pending list.
		_ = q.client.XAck(ctx, q.streamKey, q.consumerGroup, msg.ID)
		return fmt.Errorf("message data field is not a string")
	}

	var m ReportUploaded
	if err := json.Unmarshal([]byte(dataStr), &m); err != nil {
		_ = q.client.XAck(ctx, q.streamKey, q.consumerGroup, msg.ID)
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	if err := handler(ctx, &m); err != nil {
		// Not acknowledged; stays pending for redelivery.
		return fmt.Errorf("handler failed to process message: %w", err)
	}

	if err := q.client.XAck(ctx, q.streamKey, q.consumerGroup, msg.ID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}

	return nil
}

// Close releases resources held by the RedisQueue.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
