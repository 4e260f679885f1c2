package main

import (
	"context"
	"encoding/json"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/metrics"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// Processor turns order lifecycle events into business metrics, at most once
// per event id.
type Processor struct {
	dedupe  Deduper
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(dedupe Deduper, recorder MetricsRecorder, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{dedupe: dedupe, metrics: recorder, logger: logger}
}

// Handle processes an SQS batch. Failed messages are reported individually so
// SQS redelivers only those; after the queue's receive limit they go to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var resp lambdaevents.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker message failed",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	var ev events.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if ev.EventID == "" || ev.OrderID == "" {
		return fmt.Errorf("message %s: missing event_id or order_id", rec.MessageId)
	}
	lg := p.logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("event_type", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.String("correlation_id", ev.CorrelationID),
	)

	key := dedupeKey(ev.EventID)
	created, err := p.dedupe.Claim(ctx, key, ev.OrderID)
	if err != nil {
		return fmt.Errorf("dedupe: %w", err)
	}
	if !created {
		prev, err := p.dedupe.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("dedupe lookup: %w", err)
		}
		// records left IN_PROGRESS or FAILED by an earlier attempt are retried
		if prev.Done() {
			lg.Info("duplicate event skipped")
			return nil
		}
	}

	datums := datumsFor(ev)
	if err := p.metrics.Record(ctx, datums...); err != nil {
		if merr := p.dedupe.Fail(ctx, key, err.Error()); merr != nil {
			lg.Warn("mark event failed", zap.Error(merr))
		}
		return err
	}

	if err := p.dedupe.Complete(ctx, key, fmt.Sprintf(`{"event_id":%q,"metrics":%d}`, ev.EventID, len(datums)), 200); err != nil {
		return fmt.Errorf("mark event done: %w", err)
	}
	lg.Info("event processed", zap.Int("metrics", len(datums)))
	return nil
}

// datumsFor maps an event to the metrics it contributes.
func datumsFor(ev events.Event) []metrics.Datum {
	switch ev.Type {
	case events.TypeOrderPlaced:
		revenue, _ := ev.Total.Float64()
		return []metrics.Datum{
			metrics.Count(metrics.OrdersPlaced),
			{Name: metrics.OrderRevenue, Value: revenue, Unit: cwtypes.StandardUnitNone},
		}
	case events.TypeOrderStatusChanged:
		switch orders.Status(ev.Status) {
		case orders.StatusCancelled:
			return []metrics.Datum{metrics.Count(metrics.OrdersCancelled)}
		case orders.StatusDelivered:
			return []metrics.Datum{metrics.Count(metrics.OrdersDelivered)}
		}
	}
	return nil
}
