// Package collyfetcher implements the upstream quest Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// Config controls collector behavior.
type Config struct {
	BaseURL      string
	Token        string
	UserAgent    string
	LocaleHeader string
	QuestURLBase string
	AssetBaseURL string
	Headers      map[string]string
	Timeout      time.Duration
}

// Fetcher implements quest.Fetcher with one GET per region.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchResult collects what the colly callbacks observed for one visit.
type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.LocaleHeader == "" {
		cfg.LocaleHeader = "X-Locale"
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch retrieves the quest list for region. It never retries; the driver's
// next tick is the retry.
func (f *Fetcher) Fetch(ctx context.Context, region string) ([]quest.Quest, error) {
	quests, err := f.fetch(ctx, region)
	metrics.ObserveFetch(region, fetchStatus(err), len(quests))
	return quests, err
}

func (f *Fetcher) fetch(ctx context.Context, region string) ([]quest.Quest, error) {
	target := f.questsURL(region)
	var res fetchResult

	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, region, &res)

	if err := f.runCollector(ctx, collector, target); err != nil {
		// On cancellation the visit goroutine may still own res.
		if ctx.Err() != nil {
			return nil, &quest.UpstreamError{Region: region, Transient: true, Err: err}
		}
		if res.err == nil {
			res.err = err
		}
	}
	if err := classify(region, res.status, res.err); err != nil {
		return nil, err
	}

	quests, err := decodeQuests(res.body, region, f.cfg.QuestURLBase, f.cfg.AssetBaseURL)
	if err != nil {
		return nil, &quest.UpstreamError{Region: region, StatusCode: res.status, Err: err}
	}
	return quests, nil
}

func (f *Fetcher) questsURL(region string) string {
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/quests?locale=" + url.QueryEscape(region)
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, region string, res *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r, region)
	})

	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})
}

func (f *Fetcher) setHeaders(r *colly.Request, region string) {
	for key, value := range f.cfg.Headers {
		r.Headers.Set(key, value)
	}
	r.Headers.Set("Accept", "application/json")
	r.Headers.Set(f.cfg.LocaleHeader, region)
	if f.cfg.Token != "" {
		r.Headers.Set("Authorization", bearer(f.cfg.Token))
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// fetchStatus labels a fetch outcome for metrics.
func fetchStatus(err error) string {
	var authErr *quest.AuthError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &authErr):
		return "unauthorized"
	case quest.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}

// classify maps a status/transport outcome onto the upstream error taxonomy.
func classify(region string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &quest.AuthError{Scope: quest.AuthScopeUpstream, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &quest.UpstreamError{Region: region, StatusCode: status, Transient: true, Err: errors.New(http.StatusText(status))}
	case status >= 200 && status < 300 && err == nil:
		return nil
	case status == 0:
		if err == nil {
			err = errors.New("no response")
		}
		return &quest.UpstreamError{Region: region, Transient: true, Err: err}
	default:
		if err == nil {
			err = errors.New(http.StatusText(status))
		}
		return &quest.UpstreamError{Region: region, StatusCode: status, Err: err}
	}
}

// bearer prefixes token with the Bearer scheme unless it already names one.
func bearer(token string) string {
	if strings.Contains(token, " ") {
		return token
	}
	return "Bearer " + token
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
