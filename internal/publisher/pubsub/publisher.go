// Package pubsub publishes completion events to a Google Cloud Pub/Sub
// topic so downstream consumers can react to finished articles.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

// Publisher sends completion events to a single topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to Pub/Sub and binds the topic. The topic must already
// exist; it is not created here.
func New(ctx context.Context, projectID, topicName string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client for %s: %w", projectID, err)
	}
	return &Publisher{
		client: client,
		topic:  client.Topic(topicName),
	}, nil
}

// Publish sends the event as JSON and waits for server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, event pipeline.CompletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"article_id": event.ArticleID,
			"status":     string(event.Status),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion event for article %s: %w", event.ArticleID, err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

var _ pipeline.Publisher = (*Publisher)(nil)
