// Package pubsub delivers quest notifications as JSON messages on a Google
// Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Config identifies the target topic.
type Config struct {
	Name      string
	ProjectID string
	Topic     string
}

// Sink publishes one message per quest. It implements quest.Notifier.
type Sink struct {
	name      string
	client    *pubsub.Client
	topic     *pubsub.Topic
	ownClient bool
}

// Open creates a Pub/Sub client using Application Default Credentials (or the
// supplied options) and checks that the topic exists.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub sink requires project id and topic")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.Topic, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.Topic, cfg.ProjectID)
	}
	sink := New(cfg.Name, client, topic)
	sink.ownClient = true
	return sink, nil
}

// New wraps an existing client and topic. The caller keeps ownership of the client.
func New(name string, client *pubsub.Client, topic *pubsub.Topic) *Sink {
	if name == "" {
		name = string(quest.SinkPubSub)
	}
	return &Sink{name: name, client: client, topic: topic}
}

// Name returns the sink's display name.
func (s *Sink) Name() string { return s.name }

// Send publishes q as JSON and waits for the server to acknowledge it.
func (s *Sink) Send(ctx context.Context, q quest.Quest) error {
	if s.topic == nil {
		return &quest.DeliveryError{Sink: s.name, QuestID: q.ID, Err: fmt.Errorf("pubsub topic is not configured")}
	}
	data, err := json.Marshal(q)
	if err != nil {
		return &quest.DeliveryError{Sink: s.name, QuestID: q.ID, Err: fmt.Errorf("marshal quest: %w", err)}
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"quest_id": q.ID,
			"region":   q.Region,
			"category": string(q.Category),
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return &quest.DeliveryError{Sink: s.name, QuestID: q.ID, Err: fmt.Errorf("publish message: %w", err)}
	}
	return nil
}

// Close flushes pending publishes and releases the client if the sink owns it.
func (s *Sink) Close() error {
	if s.topic != nil {
		s.topic.Stop()
	}
	if s.ownClient && s.client != nil {
		if err := s.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
