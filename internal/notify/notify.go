// Package notify builds the configured notification sinks.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/multierr"

	"github.com/JakeFAU/questwatch/internal/config"
	pubsubsink "github.com/JakeFAU/questwatch/internal/notify/pubsub"
	"github.com/JakeFAU/questwatch/internal/notify/webhook"
	"github.com/JakeFAU/questwatch/internal/quest"
	"github.com/JakeFAU/questwatch/internal/ratelimit"
)

// Set is the ordered list of sinks plus anything that must be closed on shutdown.
type Set struct {
	Notifiers []quest.Notifier
	closers   []io.Closer
}

// Close releases every sink that holds a client.
func (s *Set) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Build constructs one notifier per configured sink, in configuration order.
// Webhook sinks share one HTTP client and one limiter keyed by sink name.
func Build(ctx context.Context, sinks []quest.Sink, cfg config.NotifyConfig, clock quest.Clock) (*Set, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.PerSinkRPS, DefaultBurst: 1})

	set := &Set{}
	for i, s := range sinks {
		name := s.DisplayName()
		switch s.Kind {
		case quest.SinkWebhook, "":
			sink, err := webhook.New(webhook.Config{
				Name:      name,
				URL:       s.URL,
				Username:  cfg.Username,
				AvatarURL: cfg.AvatarURL,
				Timeout:   cfg.Timeout,
			}, client, limiter, clock)
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("build sink %d (%s): %w", i, name, err), set.Close())
			}
			set.Notifiers = append(set.Notifiers, sink)
		case quest.SinkPubSub:
			sink, err := pubsubsink.Open(ctx, pubsubsink.Config{Name: name, ProjectID: s.ProjectID, Topic: s.Topic})
			if err != nil {
				return nil, multierr.Append(fmt.Errorf("build sink %d (%s): %w", i, name, err), set.Close())
			}
			set.Notifiers = append(set.Notifiers, sink)
			set.closers = append(set.closers, sink)
		default:
			return nil, multierr.Append(fmt.Errorf("build sink %d (%s): unknown kind %q", i, name, s.Kind), set.Close())
		}
	}
	return set, nil
}
