package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *captureCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestRecord(t *testing.T) {
	cw := &captureCloudWatch{}
	r := NewRecorder(cw, "Storefront/Orders", "orders-worker")

	err := r.Record(context.Background(),
		Count(OrdersPlaced),
		Datum{Name: OrderRevenue, Value: 24.5, Unit: cwtypes.StandardUnitNone},
	)
	require.NoError(t, err)
	require.Len(t, cw.inputs, 1)

	in := cw.inputs[0]
	assert.Equal(t, "Storefront/Orders", *in.Namespace)
	require.Len(t, in.MetricData, 2)
	assert.Equal(t, OrdersPlaced, *in.MetricData[0].MetricName)
	assert.Equal(t, 1.0, *in.MetricData[0].Value)
	assert.Equal(t, cwtypes.StandardUnitCount, in.MetricData[0].Unit)
	assert.Equal(t, 24.5, *in.MetricData[1].Value)
	assert.Equal(t, "orders-worker", *in.MetricData[1].Dimensions[0].Value)
}

func TestRecord_NothingToSend(t *testing.T) {
	cw := &captureCloudWatch{}
	require.NoError(t, NewRecorder(cw, "ns", "svc").Record(context.Background()))
	assert.Empty(t, cw.inputs)
}

func TestRecord_WrapsError(t *testing.T) {
	boom := errors.New("throttled")
	r := NewRecorder(&captureCloudWatch{err: boom}, "ns", "svc")
	assert.ErrorIs(t, r.Record(context.Background(), Count(OrdersCancelled)), boom)
}
