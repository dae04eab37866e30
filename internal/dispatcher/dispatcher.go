// Package dispatcher fans accepted quests out to every configured sink.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// Report summarises one dispatch.
type Report struct {
	Delivered int
	Failed    int
	// Err combines every DeliveryError; nil when Failed is zero.
	Err error
}

// Dispatcher delivers records to sinks sequentially, one attempt per pair.
type Dispatcher struct {
	sinks   []quest.Notifier
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Dispatcher. A non-positive timeout leaves deadlines to the sinks.
func New(sinks []quest.Notifier, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// Sinks returns the number of configured sinks.
func (d *Dispatcher) Sinks() int { return len(d.sinks) }

// Dispatch sends each record to each sink in order. A failure is recorded and
// the remaining pairs are still attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, records []quest.Quest) Report {
	var report Report
	for _, q := range records {
		for _, sink := range d.sinks {
			if err := d.send(ctx, sink, q); err != nil {
				report.Failed++
				report.Err = multierr.Append(report.Err, err)
				metrics.ObserveDelivery(sink.Name(), "failed")
				d.logger.Warn("delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("quest_id", q.ID),
					zap.String("region", q.Region),
					zap.Error(err),
				)
				continue
			}
			report.Delivered++
			metrics.ObserveDelivery(sink.Name(), "delivered")
			d.logger.Debug("delivered",
				zap.String("sink", sink.Name()),
				zap.String("quest_id", q.ID),
			)
		}
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, sink quest.Notifier, q quest.Quest) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	err := sink.Send(ctx, q)
	if err == nil {
		return nil
	}
	var deliveryErr *quest.DeliveryError
	if errors.As(err, &deliveryErr) {
		return err
	}
	return &quest.DeliveryError{Sink: sink.Name(), QuestID: q.ID, Err: err}
}
