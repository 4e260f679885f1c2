package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/storefront-orderflow/internal/events"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/metrics"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

type recorder struct {
	datums []metrics.Datum
	err    error
}

func (r *recorder) Record(_ context.Context, datums ...metrics.Datum) error {
	if r.err != nil {
		return r.err
	}
	r.datums = append(r.datums, datums...)
	return nil
}

func newTestProcessor() (*Processor, *idempotency.Store, *recorder) {
	fake := dynamotest.New(map[string]string{"idempotency": "idempotency_key"})
	store := idempotency.NewStore(fake, "idempotency", time.Hour)
	rec := &recorder{}
	return NewProcessor(store, rec, nil), store, rec
}

func sqsEvent(t *testing.T, evs ...events.Event) lambdaevents.SQSEvent {
	t.Helper()
	var out lambdaevents.SQSEvent
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal event: %v", err)
		}
		out.Records = append(out.Records, lambdaevents.SQSMessage{MessageId: "m-" + ev.EventID, Body: string(body)})
	}
	return out
}

func placedEvent(id string) events.Event {
	ev := events.NewEvent(events.TypeOrderPlaced, "o1", time.Now())
	ev.EventID = id
	ev.Total = money.MustParse("24.50")
	return ev
}

func TestWorkerProcess_Success(t *testing.T) {
	p, store, rec := newTestProcessor()

	resp, err := p.Handle(context.Background(), sqsEvent(t, placedEvent("e1")))
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failures: %+v", resp.BatchItemFailures)
	}
	if len(rec.datums) != 2 || rec.datums[0].Name != metrics.OrdersPlaced || rec.datums[1].Value != 24.5 {
		t.Fatalf("unexpected datums: %+v", rec.datums)
	}

	got, err := store.Get(context.Background(), dedupeKey("e1"))
	if err != nil || got == nil {
		t.Fatalf("expected dedupe record, got %v, %v", got, err)
	}
	if got.Status != idempotency.StatusDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}
}

func TestWorkerProcess_DuplicateDeliverySkipped(t *testing.T) {
	p, _, rec := newTestProcessor()
	ev := sqsEvent(t, placedEvent("e1"))

	if _, err := p.Handle(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Handle(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(rec.datums) != 2 {
		t.Fatalf("expected metrics recorded once, got %d datums", len(rec.datums))
	}
}

func TestWorkerProcess_StatusChanges(t *testing.T) {
	p, _, rec := newTestProcessor()

	cancelled := events.NewEvent(events.TypeOrderStatusChanged, "o1", time.Now())
	cancelled.Status = "cancelled"
	delivered := events.NewEvent(events.TypeOrderStatusChanged, "o2", time.Now())
	delivered.Status = "delivered"
	shipped := events.NewEvent(events.TypeOrderStatusChanged, "o3", time.Now())
	shipped.Status = "shipped"

	if _, err := p.Handle(context.Background(), sqsEvent(t, cancelled, delivered, shipped)); err != nil {
		t.Fatal(err)
	}
	if len(rec.datums) != 2 || rec.datums[0].Name != metrics.OrdersCancelled || rec.datums[1].Name != metrics.OrdersDelivered {
		t.Fatalf("unexpected datums: %+v", rec.datums)
	}
}

func TestWorkerProcess_FailuresAreReportedPerMessage(t *testing.T) {
	p, store, rec := newTestProcessor()
	rec.err = errors.New("cloudwatch unavailable")

	ev := sqsEvent(t, placedEvent("e1"))
	ev.Records = append(ev.Records, lambdaevents.SQSMessage{MessageId: "bad", Body: "{not json"})

	resp, err := p.Handle(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", resp.BatchItemFailures)
	}

	got, _ := store.Get(context.Background(), dedupeKey("e1"))
	if got == nil || got.Status != idempotency.StatusFailed {
		t.Fatalf("expected FAILED record, got %+v", got)
	}

	// a redelivery after recovery is processed
	rec.err = nil
	resp, _ = p.Handle(context.Background(), sqsEvent(t, placedEvent("e1")))
	if len(resp.BatchItemFailures) != 0 || len(rec.datums) != 2 {
		t.Fatalf("expected retry to succeed, failures=%+v datums=%+v", resp.BatchItemFailures, rec.datums)
	}
}
