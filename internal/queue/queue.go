package queue

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
)

// ConsumerGroup is the Redis consumer group shared by all workers.
const ConsumerGroup = "bundlediff-workers"

// New creates the MessageQueue selected by cfg.
func New(ctx context.Context, cfg config.QueueConfig) (MessageQueue, error) {
	switch cfg.Type {
	case config.QueueTypeInMemory:
		return NewInMemoryQueue(InMemoryConfig{}), nil

	case config.QueueTypeRedis:
		q, err := NewRedisQueue(ctx, RedisConfig{
			Address:           cfg.RedisAddr,
			Password:          cfg.RedisPassword,
			DB:                cfg.RedisDB,
			StreamKey:         cfg.RedisStream,
			ConsumerGroup:     ConsumerGroup,
			ConsumerName:      consumerName(),
			CreateIfNotExists: true,
		})
		if err != nil {
			return nil, err
		}
		return q, nil

	case config.QueueTypePubSub:
		q, err := NewPubSubQueue(ctx, PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			TopicName:        cfg.PubSubTopicID,
			SubscriptionName: cfg.PubSubSubscription,
		})
		if err != nil {
			return nil, err
		}
		return q, nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}

// consumerName is unique per process so that Redis tracks pending
// messages per worker.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
