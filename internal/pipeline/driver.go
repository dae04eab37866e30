package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// ErrTickInProgress is returned by Tick when a previous tick has not finished.
var ErrTickInProgress = errors.New("tick already in progress")

// Config controls the polling loop.
type Config struct {
	// Regions are polled sequentially in this order on every tick.
	Regions   []string
	Interval  time.Duration
	RunOnce   bool
	JitterMin time.Duration
	JitterMax time.Duration
	// Source labels batches in metrics and forwarded payloads.
	Source string
	// Seed makes each region record its quests without notifying until its
	// first successful fetch.
	Seed bool
}

// Summary reports one tick.
type Summary struct {
	Regions          int
	Fetched          int
	Accepted         int
	Deduped          int
	Filtered         int
	Seeded           int
	FetchErrors      int
	Delivered        int
	DeliveryFailures int
	Forwarded        int
	ForwardErrors    int
}

// Driver polls the upstream on a timer. With a Processor it deduplicates and
// notifies locally; with a Forwarder it pushes raw batches to a collector.
type Driver struct {
	cfg       Config
	fetcher   quest.Fetcher
	processor *Processor
	forwarder quest.Forwarder
	logger    *zap.Logger

	running atomic.Bool
	// unseeded holds regions still in seed mode. Only Tick touches it.
	unseeded map[string]bool

	// pause is swapped in tests.
	pause func(ctx context.Context, d time.Duration) error
}

// NewDriver validates cfg and builds a Driver. Exactly one of processor and
// forwarder must be set.
func NewDriver(cfg Config, fetcher quest.Fetcher, processor *Processor, forwarder quest.Forwarder, logger *zap.Logger) (*Driver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if (processor == nil) == (forwarder == nil) {
		return nil, fmt.Errorf("exactly one of processor or forwarder is required")
	}
	if len(cfg.Regions) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}
	if !cfg.RunOnce && cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if cfg.JitterMin < 0 || cfg.JitterMax < cfg.JitterMin {
		return nil, fmt.Errorf("invalid jitter window %s..%s", cfg.JitterMin, cfg.JitterMax)
	}
	if cfg.Source == "" {
		cfg.Source = "local"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:       cfg,
		fetcher:   fetcher,
		processor: processor,
		forwarder: forwarder,
		logger:    logger,
		pause:     sleepCtx,
	}
	if cfg.Seed && processor != nil {
		d.unseeded = make(map[string]bool, len(cfg.Regions))
		for _, region := range cfg.Regions {
			d.unseeded[region] = true
		}
	}
	return d, nil
}

// Run ticks immediately and then on every interval until ctx is cancelled or a
// fatal error occurs. In run-once mode it returns after the first tick.
func (d *Driver) Run(ctx context.Context) error {
	if _, err := d.Tick(ctx); err != nil && quest.IsFatal(err) {
		return err
	}
	if d.cfg.RunOnce {
		return nil
	}

	// A slow tick makes the ticker drop intervals instead of queueing them.
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil && quest.IsFatal(err) {
				return err
			}
		}
	}
}

// Tick polls every configured region once. Cancellation of ctx is observed
// between regions; a region already in progress finishes its
// fetch/process/notify step on a detached context.
func (d *Driver) Tick(ctx context.Context) (Summary, error) {
	if !d.running.CompareAndSwap(false, true) {
		return Summary{}, ErrTickInProgress
	}
	defer d.running.Store(false)

	start := time.Now()
	var sum Summary
	var tickErr error

	for i, region := range d.cfg.Regions {
		if i > 0 && d.cfg.JitterMax > 0 {
			if err := d.pause(ctx, d.jitter()); err != nil {
				tickErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			tickErr = err
			break
		}

		sum.Regions++
		if err := d.runRegion(context.WithoutCancel(ctx), region, &sum); err != nil {
			tickErr = err
			break
		}
	}

	d.finish(start, sum, tickErr)
	return sum, tickErr
}

func (d *Driver) runRegion(ctx context.Context, region string, sum *Summary) error {
	logger := d.logger.With(zap.String("region", region))

	records, err := d.fetcher.Fetch(ctx, region)
	if err != nil {
		if quest.IsFatal(err) {
			logger.Error("upstream credential rejected", zap.Error(err))
			return fmt.Errorf("fetch %s: %w", region, err)
		}
		sum.FetchErrors++
		if quest.IsTransient(err) {
			logger.Warn("fetch failed, retrying next tick", zap.Error(err))
		} else {
			logger.Error("fetch failed", zap.Error(err))
		}
		return nil
	}
	sum.Fetched += len(records)

	if d.forwarder != nil {
		res, err := d.forwarder.Forward(ctx, quest.IngestBatch{Region: region, Quests: records, Source: d.cfg.Source})
		if err != nil {
			sum.ForwardErrors++
			logger.Warn("forward failed, batch dropped", zap.Int("quests", len(records)), zap.Error(err))
			return nil
		}
		sum.Forwarded += len(records)
		logger.Info("batch forwarded",
			zap.Int("quests", len(records)),
			zap.Int("accepted", res.Accepted),
			zap.Int("deduped", res.Deduped),
		)
		return nil
	}

	seed := d.unseeded[region]
	out, err := d.processor.Handle(ctx, region, d.cfg.Source, records, !seed)
	if seed {
		sum.Seeded += len(out.Accepted)
	} else {
		sum.Accepted += len(out.Accepted)
	}
	sum.Deduped += out.Deduped
	sum.Filtered += out.Filtered
	sum.Delivered += out.Delivered
	sum.DeliveryFailures += out.Failed
	if out.DeliveryErr != nil {
		logger.Warn("some deliveries failed", zap.Int("failed", out.Failed), zap.Error(out.DeliveryErr))
	}
	if err != nil {
		logger.Error("seen-set update failed", zap.Error(err))
		return err
	}
	if seed {
		delete(d.unseeded, region)
		logger.Info("region seeded", zap.Int("quests", len(out.Accepted)))
	}
	return nil
}

func (d *Driver) finish(start time.Time, sum Summary, err error) {
	outcome := "ok"
	switch {
	case err != nil && quest.IsFatal(err):
		outcome = "fatal"
	case err != nil:
		outcome = "cancelled"
	case sum.FetchErrors > 0 || sum.DeliveryFailures > 0 || sum.ForwardErrors > 0:
		outcome = "partial"
	}
	elapsed := time.Since(start)
	metrics.ObserveTick(outcome, elapsed)

	d.logger.Info("tick complete",
		zap.String("outcome", outcome),
		zap.Int("regions", sum.Regions),
		zap.Int("fetched", sum.Fetched),
		zap.Int("accepted", sum.Accepted),
		zap.Int("deduped", sum.Deduped),
		zap.Int("filtered", sum.Filtered),
		zap.Int("seeded", sum.Seeded),
		zap.Int("fetch_errors", sum.FetchErrors),
		zap.Int("delivered", sum.Delivered),
		zap.Int("delivery_failures", sum.DeliveryFailures),
		zap.Int("forwarded", sum.Forwarded),
		zap.Int("forward_errors", sum.ForwardErrors),
		zap.Duration("elapsed", elapsed),
	)
}

func (d *Driver) jitter() time.Duration {
	span := d.cfg.JitterMax - d.cfg.JitterMin
	if span <= 0 {
		return d.cfg.JitterMin
	}
	return d.cfg.JitterMin + rand.N(span+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
