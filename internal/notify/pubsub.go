package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSub publishes summaries to a Cloud Pub/Sub topic as JSON messages.
// Status and run ID travel as attributes so subscribers can filter without
// decoding the payload.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSub builds a PubSub notifier on an existing client. The notifier
// owns the client and closes it on Close.
func NewPubSub(client *pubsub.Client, topicID string, logger *zap.Logger) *PubSub {
	return &PubSub{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger,
	}
}

// Notify implements Notifier.
func (p *PubSub) Notify(ctx context.Context, summary Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": summary.RunID,
			"status": summary.Status,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.logger.Debug("run summary published",
		zap.String("topic", p.topic.ID()),
		zap.String("message_id", id),
	)
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
