// Package metrics publishes business metrics to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// Metric names emitted by the worker.
const (
	OrdersPlaced    = "OrdersPlaced"
	OrderRevenue    = "OrderRevenue"
	OrdersCancelled = "OrdersCancelled"
	OrdersDelivered = "OrdersDelivered"
)

// Datum is one metric observation.
type Datum struct {
	Name  string
	Value float64
	Unit  cwtypes.StandardUnit
}

// Count is a Datum of one occurrence.
func Count(name string) Datum {
	return Datum{Name: name, Value: 1, Unit: cwtypes.StandardUnitCount}
}

// Recorder writes datums under one namespace with a Service dimension.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	service   string
	nowFunc   func() time.Time
}

// NewRecorder returns a Recorder for namespace (e.g. "Storefront/Orders").
func NewRecorder(client aws.CloudWatchAPI, namespace, service string) *Recorder {
	return &Recorder{
		client:    client,
		namespace: namespace,
		service:   service,
		nowFunc:   time.Now,
	}
}

// Record sends datums in a single PutMetricData call.
func (r *Recorder) Record(ctx context.Context, datums ...Datum) error {
	if len(datums) == 0 {
		return nil
	}
	now := r.nowFunc().UTC()
	data := make([]cwtypes.MetricDatum, 0, len(datums))
	for _, d := range datums {
		data = append(data, cwtypes.MetricDatum{
			MetricName: awsString(d.Name),
			Value:      awsFloat64(d.Value),
			Unit:       d.Unit,
			Timestamp:  &now,
			Dimensions: []cwtypes.Dimension{
				{Name: awsString("Service"), Value: awsString(r.service)},
			},
		})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsString(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsFloat64(f float64) *float64 { return &f }
