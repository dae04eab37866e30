// Package app wires configuration into long-lived services and runs the role
// the process was configured for.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/api"
	"github.com/JakeFAU/questwatch/internal/clock/system"
	"github.com/JakeFAU/questwatch/internal/config"
	"github.com/JakeFAU/questwatch/internal/dedup"
	"github.com/JakeFAU/questwatch/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/questwatch/internal/fetcher/colly"
	"github.com/JakeFAU/questwatch/internal/forwarder"
	"github.com/JakeFAU/questwatch/internal/id/uuid"
	"github.com/JakeFAU/questwatch/internal/logging"
	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/notify"
	"github.com/JakeFAU/questwatch/internal/pipeline"
	"github.com/JakeFAU/questwatch/internal/quest"
	"github.com/JakeFAU/questwatch/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// App holds the services for one role. Agents have no store, sinks or server.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store  quest.SeenStore
	sinks  *notify.Set
	driver *pipeline.Driver
	api    *api.Server
	server *http.Server

	fatal chan error
}

// Option customises New, mostly for tests.
type Option func(*options)

type options struct {
	fetcher quest.Fetcher
	clock   quest.Clock
	sinks   []quest.Notifier
}

// WithFetcher replaces the upstream fetcher.
func WithFetcher(f quest.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithClock replaces the wall clock.
func WithClock(c quest.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithNotifiers replaces the configured sinks.
func WithNotifiers(n ...quest.Notifier) Option {
	return func(o *options) { o.sinks = n }
}

// New validates cfg and builds every service its role needs. It fails fast:
// an unreadable seen-set or an unreachable sink stops startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger)
	metrics.Init()

	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		f, err := collyfetcher.New(collyfetcher.Config{
			BaseURL:      cfg.Upstream.BaseURL,
			Token:        cfg.Upstream.Token,
			UserAgent:    cfg.Upstream.UserAgent,
			LocaleHeader: cfg.Upstream.LocaleHeader,
			QuestURLBase: cfg.Upstream.QuestURLBase,
			AssetBaseURL: cfg.Upstream.AssetBaseURL,
			Headers:      cfg.Upstream.Headers,
			Timeout:      cfg.Upstream.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("build fetcher: %w", err)
		}
		o.fetcher = f
	}

	a := &App{cfg: cfg, logger: logger, fatal: make(chan error, 1)}
	driverCfg := pipeline.Config{
		Regions:   cfg.Regions(),
		Interval:  cfg.Poll.Interval,
		RunOnce:   cfg.Poll.RunOnce,
		JitterMin: cfg.Poll.JitterMin,
		JitterMax: cfg.Poll.JitterMax,
		Source:    "local",
	}

	if cfg.Role == config.RoleAgent {
		fwd, err := forwarder.New(forwarder.Config{
			CollectorURL: cfg.Cluster.CollectorURL,
			Token:        cfg.Cluster.Token,
			Timeout:      cfg.Notify.Timeout,
		}, nil, uuid.New())
		if err != nil {
			return nil, fmt.Errorf("build forwarder: %w", err)
		}
		driverCfg.Source = cfg.Cluster.Source
		driver, err := pipeline.NewDriver(driverCfg, o.fetcher, nil, fwd, logger.Named("driver"))
		if err != nil {
			return nil, fmt.Errorf("build driver: %w", err)
		}
		a.driver = driver
		logger.Info("agent configured",
			zap.Strings("regions", driverCfg.Regions),
			zap.String("collector", fwd.Endpoint()),
		)
		return a, nil
	}

	if err := a.buildLocal(ctx, driverCfg, o); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *App) buildLocal(ctx context.Context, driverCfg pipeline.Config, o options) error {
	store, err := storage.Open(ctx, a.cfg.Storage, a.logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("open seen-set: %w", err)
	}
	a.store = store

	notifiers := o.sinks
	if notifiers == nil {
		set, err := notify.Build(ctx, a.cfg.AllSinks(), a.cfg.Notify, o.clock)
		if err != nil {
			return fmt.Errorf("build sinks: %w", err)
		}
		a.sinks = set
		notifiers = set.Notifiers
	}

	d, err := dedup.New(store, a.cfg.RewardFilter(), o.clock)
	if err != nil {
		return fmt.Errorf("build deduplicator: %w", err)
	}
	disp := dispatcher.New(notifiers, a.cfg.Notify.Timeout, a.logger.Named("dispatcher"))
	processor, err := pipeline.NewProcessor(d, disp, a.logger.Named("processor"))
	if err != nil {
		return fmt.Errorf("build processor: %w", err)
	}

	n, err := store.Len(ctx)
	if err != nil {
		return fmt.Errorf("count seen-set: %w", err)
	}
	driverCfg.Seed = n == 0 && !a.cfg.Poll.InitialSendAll
	if driverCfg.Seed {
		a.logger.Info("seen-set is empty; each region records its first successful fetch without notifying")
	}
	a.driver, err = pipeline.NewDriver(driverCfg, o.fetcher, processor, nil, a.logger.Named("driver"))
	if err != nil {
		return fmt.Errorf("build driver: %w", err)
	}

	if a.cfg.Role == config.RoleCollector {
		a.api = api.NewServer(processor, uuid.New(), api.Options{
			Token:        a.cfg.Cluster.Token,
			MaxBodyBytes: a.cfg.Cluster.MaxBodyBytes,
			OnFatal:      a.reportFatal,
		}, a.logger.Named("ingest"))
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Cluster.IngestPort),
			Handler:           a.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	a.logger.Info("pipeline configured",
		zap.String("role", string(a.cfg.Role)),
		zap.Strings("regions", driverCfg.Regions),
		zap.String("filter", string(d.Filter())),
		zap.Int("sinks", disp.Sinks()),
		zap.Int("known", n),
	)
	return nil
}

// Handler returns the collector's HTTP handler, or nil for other roles.
func (a *App) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// Run drives the configured role until ctx is cancelled, a run-once tick
// completes, or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.server != nil {
		go func() {
			a.logger.Info("ingest server started", zap.Int("port", a.cfg.Cluster.IngestPort))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.reportFatal(fmt.Errorf("ingest server: %w", err))
			}
		}()
	}

	driverDone := make(chan error, 1)
	go func() {
		driverDone <- a.driver.Run(ctx)
	}()

	var runErr error
	select {
	case err := <-driverDone:
		runErr = err
		driverDone = nil
	case err := <-a.fatal:
		runErr = err
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	}
	cancel()

	if driverDone != nil {
		if err := <-driverDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	if a.server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if runErr != nil {
		a.logger.Error("stopping on fatal error", zap.Error(runErr))
	}
	return runErr
}

// Close releases the store and sink clients.
func (a *App) Close() error {
	var err error
	if a.sinks != nil {
		err = multierr.Append(err, a.sinks.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}

func (a *App) reportFatal(err error) {
	select {
	case a.fatal <- err:
	default:
	}
}
