// Package forwarder pushes fetched batches from an agent to the collector's
// ingest endpoint.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/quest"
)

const ingestPath = "/ingest"

// Config describes the collector endpoint.
type Config struct {
	CollectorURL string
	Token        string
	Timeout      time.Duration
}

// Forwarder implements quest.Forwarder over HTTP. Each batch is sent once;
// a failed batch is left for the next tick to re-fetch.
type Forwarder struct {
	endpoint string
	token    string
	client   *http.Client
	ids      quest.IDGenerator
}

// New validates cfg and builds a Forwarder. A nil client gets one bounded by
// cfg.Timeout.
func New(cfg Config, client *http.Client, ids quest.IDGenerator) (*Forwarder, error) {
	endpoint, err := ingestEndpoint(cfg.CollectorURL)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("collector token is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Forwarder{endpoint: endpoint, token: cfg.Token, client: client, ids: ids}, nil
}

// Endpoint returns the resolved ingest URL.
func (f *Forwarder) Endpoint() string { return f.endpoint }

// Forward posts batch to the collector and returns its acceptance counts.
func (f *Forwarder) Forward(ctx context.Context, batch quest.IngestBatch) (quest.IngestResult, error) {
	if batch.Quests == nil {
		batch.Quests = []quest.Quest{}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		metrics.ObserveForward("error")
		return quest.IngestResult{}, fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveForward("error")
		return quest.IngestResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	if id, err := f.ids.NewID(); err == nil {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveForward("error")
		return quest.IngestResult{}, fmt.Errorf("post batch to %s: %w", f.endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best effort

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.ObserveForward("unauthorized")
		return quest.IngestResult{}, &quest.AuthError{
			Scope:      quest.AuthScopeCollector,
			StatusCode: resp.StatusCode,
			Err:        errors.New(readSnippet(resp.Body)),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.ObserveForward("error")
		return quest.IngestResult{}, fmt.Errorf("collector responded with status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var result quest.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.ObserveForward("error")
		return quest.IngestResult{}, fmt.Errorf("decode collector response: %w", err)
	}
	metrics.ObserveForward("ok")
	return result, nil
}

// ingestEndpoint appends /ingest to a collector URL given without a path.
func ingestEndpoint(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("collector url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", fmt.Errorf("parse collector url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("collector url must be http or https, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = ingestPath
	}
	return u.String(), nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	if s := strings.TrimSpace(string(b)); s != "" {
		return s
	}
	return "empty response"
}
