// Package pipeline runs the fetch, dedup and notify sequence on a timer and
// exposes the shared dedup-then-notify step to the ingest endpoint.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/dedup"
	"github.com/JakeFAU/questwatch/internal/dispatcher"
	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// Outcome reports what happened to one batch.
type Outcome struct {
	Accepted  []quest.Quest
	Deduped   int
	Filtered  int
	Delivered int
	Failed    int
	// DeliveryErr aggregates per-sink failures. It never aborts the batch.
	DeliveryErr error
}

// Processor is the dedup-then-notify step shared by the driver and the
// ingest handler.
type Processor struct {
	dedup      *dedup.Deduplicator
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
}

// NewProcessor wires the deduplicator to the dispatcher.
func NewProcessor(d *dedup.Deduplicator, disp *dispatcher.Dispatcher, logger *zap.Logger) (*Processor, error) {
	if d == nil {
		return nil, fmt.Errorf("deduplicator is required")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{dedup: d, dispatcher: disp, logger: logger}, nil
}

// Handle deduplicates records for region and, when deliver is set, sends the
// accepted ones to every sink. Quests accepted before a storage failure are
// still delivered; the StorageError is returned afterwards.
func (p *Processor) Handle(ctx context.Context, region, source string, records []quest.Quest, deliver bool) (Outcome, error) {
	result, procErr := p.dedup.Process(ctx, region, records)
	metrics.ObserveDedup(source, "accepted", len(result.Accepted))
	metrics.ObserveDedup(source, "deduped", result.Rejected)
	metrics.ObserveDedup(source, "filtered", result.Filtered)

	out := Outcome{
		Accepted: result.Accepted,
		Deduped:  result.Rejected,
		Filtered: result.Filtered,
	}
	if deliver && len(result.Accepted) > 0 {
		report := p.dispatcher.Dispatch(ctx, result.Accepted)
		out.Delivered = report.Delivered
		out.Failed = report.Failed
		out.DeliveryErr = report.Err
	}

	if n, err := p.dedup.Len(ctx); err == nil {
		metrics.SetSeenSetSize(n)
	} else {
		p.logger.Debug("seen-set size unavailable", zap.Error(err))
	}

	if procErr != nil {
		return out, fmt.Errorf("process %s batch from %s: %w", region, source, procErr)
	}
	return out, nil
}
