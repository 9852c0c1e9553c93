// Package pubsub implements messaging.Publisher on Google Pub/Sub.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/alfredoluis848/ndvi-ingester/service"
)

// Publisher implements messaging.Publisher
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPublisher creates a new publisher on the given topic
func NewPublisher(ctx context.Context, project, topic string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(topic)}, nil
}

// Publish implements messaging.Publisher
func (p *Publisher) Publish(ctx context.Context, data ...[]byte) error {
	for _, d := range data {
		res := p.topic.Publish(ctx, &pubsub.Message{Data: d})
		if _, err := res.Get(ctx); err != nil {
			return service.MakeTemporary(fmt.Errorf("pubsub.Publish: %w", err))
		}
	}
	return nil
}

// Stop implements messaging.Publisher
func (p *Publisher) Stop() {
	p.topic.Stop()
	p.client.Close()
}
