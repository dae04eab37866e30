// Package webhook delivers quest notifications as embed JSON over HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Pacer throttles sends per sink.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// Config describes one webhook sink.
type Config struct {
	Name      string
	URL       string
	Username  string
	AvatarURL string
	Timeout   time.Duration
}

// Sink implements quest.Notifier for one webhook URL.
type Sink struct {
	cfg    Config
	client *http.Client
	pacer  Pacer
	clock  quest.Clock
}

// New builds a webhook sink. A nil client gets one bounded by cfg.Timeout; a
// nil pacer disables pacing.
func New(cfg Config, client *http.Client, pacer Pacer, clock quest.Clock) (*Sink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Sink{cfg: cfg, client: client, pacer: pacer, clock: clock}, nil
}

// Name returns the sink's display name.
func (s *Sink) Name() string { return s.cfg.Name }

// Send posts one embed for q. It makes exactly one attempt.
func (s *Sink) Send(ctx context.Context, q quest.Quest) error {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, s.cfg.Name); err != nil {
			return s.deliveryErr(q, 0, err)
		}
	}

	body, err := json.Marshal(Payload{
		Username:  s.cfg.Username,
		AvatarURL: s.cfg.AvatarURL,
		Embeds:    []Embed{BuildEmbed(q, s.clock.Now())},
	})
	if err != nil {
		return s.deliveryErr(q, 0, fmt.Errorf("marshal payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return s.deliveryErr(q, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return s.deliveryErr(q, 0, fmt.Errorf("post webhook: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // response body drained below

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return s.deliveryErr(q, resp.StatusCode, errors.New(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *Sink) deliveryErr(q quest.Quest, status int, err error) error {
	return &quest.DeliveryError{Sink: s.cfg.Name, QuestID: q.ID, StatusCode: status, Err: err}
}
