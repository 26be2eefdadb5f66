package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/oleg-kozlyuk-grafana/go-bundlediff/internal/logctx"
)

// PubSubQueue implements MessageQueue using Google Cloud Pub/Sub.
type PubSubQueue struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
}

// PubSubConfig holds configuration for creating a PubSubQueue.
type PubSubConfig struct {
	// ProjectID is the GCP project ID
	ProjectID string

	// TopicName is the Pub/Sub topic name
	TopicName string

	// SubscriptionName is the Pub/Sub subscription name. Publishers may
	// leave it empty.
	SubscriptionName string

	// CreateIfNotExists creates the topic and subscription if they don't exist
	CreateIfNotExists bool
}

// NewPubSubQueue creates a new PubSubQueue instance.
// The caller is responsible for calling Close() when done.
func NewPubSubQueue(ctx context.Context, cfg PubSubConfig) (*PubSubQueue, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("topic name is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	var sub *pubsub.Subscription
	if cfg.SubscriptionName != "" {
		sub = client.Subscription(cfg.SubscriptionName)
	}

	if cfg.CreateIfNotExists {
		exists, err := topic.Exists(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to check topic existence: %w", err)
		}
		if !exists {
			topic, err = client.CreateTopic(ctx, cfg.TopicName)
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to create topic: %w", err)
			}
		}

		if sub != nil {
			exists, err = sub.Exists(ctx)
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to check subscription existence: %w", err)
			}
			if !exists {
				sub, err = client.CreateSubscription(ctx, cfg.SubscriptionName, pubsub.SubscriptionConfig{
					Topic:       topic,
					AckDeadline: 60 * time.Second,
				})
				if err != nil {
					client.Close()
					return nil, fmt.Errorf("failed to create subscription: %w", err)
				}
			}
		}
	}

	return &PubSubQueue{
		client:       client,
		topic:        topic,
		subscription: sub,
	}, nil
}

// Publish sends a message to the Pub/Sub topic and waits for the server ack.
func (q *PubSubQueue) Publish(ctx context.Context, msg *ReportUploaded) error {
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

	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"service":   msg.Service,
			"owner":     msg.Owner,
			"repo":      msg.Repo,
			"report_id": msg.ReportID,
		},
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Subscribe receives messages until the context is cancelled.
// Undecodable messages are acked and dropped; handler failures are nacked
// for redelivery.
func (q *PubSubQueue) Subscribe(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if q.subscription == nil {
		return fmt.Errorf("subscription is not configured")
	}

	q.subscription.ReceiveSettings.MaxOutstandingMessages = 10
	q.subscription.ReceiveSettings.NumGoroutines = 4

	logger := logctx.FromContext(ctx)

	err := q.subscription.Receive(ctx, func(ctx context.Context, pm *pubsub.Message) {
		msg, err := decodeMessage(pm.Data)
		if err != nil {
			logger.Error().Err(err).Str("message_id", pm.ID).Msg("dropping malformed message")
			pm.Ack()
			return
		}

		if err := handler(ctx, msg); err != nil {
			logger.Error().Err(err).
				Str("message_id", pm.ID).
				Str("report_id", msg.ReportID).
				Msg("failed to process message")
			pm.Nack()
			return
		}

		pm.Ack()
	})

	if err != nil {
		return fmt.Errorf("subscription receive error: %w", err)
	}

	return nil
}

func decodeMessage(data []byte) (*ReportUploaded, error) {
	var msg ReportUploaded
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &msg, nil
}

// Close releases resources held by the PubSubQueue.
func (q *PubSubQueue) Close() error {
	q.topic.Stop()
	return q.client.Close()
}
