package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("in-memory", func(t *testing.T) {
		q, err := New(ctx, config.QueueConfig{Type: config.QueueTypeInMemory})
		require.NoError(t, err)
		defer q.Close()
		assert.IsType(t, &InMemoryQueue{}, q)
	})

	t.Run("unsupported type", func(t *testing.T) {
		q, err := New(ctx, config.QueueConfig{Type: "kafka"})
		require.Error(t, err)
		assert.Nil(t, q)
		assert.Contains(t, err.Error(), "unsupported queue type")
	})

	t.Run("redis without address", func(t *testing.T) {
		q, err := New(ctx, config.QueueConfig{Type: config.QueueTypeRedis, RedisStream: "s"})
		require.Error(t, err)
		assert.Nil(t, q)
	})

	t.Run("pubsub without project", func(t *testing.T) {
		q, err := New(ctx, config.QueueConfig{Type: config.QueueTypePubSub, PubSubTopicID: "t"})
		require.Error(t, err)
		assert.Nil(t, q)
	})
}

func TestConsumerName(t *testing.T) {
	a, b := consumerName(), consumerName()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
