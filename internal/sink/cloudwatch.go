package sink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"serving-probe/internal/metrics"
)

// PutMetricDataAPI is the part of the CloudWatch client used by the sink
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes datapoints with PutMetricData
type CloudWatch struct {
	client    PutMetricDataAPI
	namespace string
	maxDatums int
}

// NewCloudWatch creates a sink that accepts at most maxDatums datapoints per call
func NewCloudWatch(client PutMetricDataAPI, namespace string, maxDatums int) (*CloudWatch, error) {
	if client == nil {
		return nil, fmt.Errorf("cloudwatch client is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("cloudwatch namespace is required")
	}
	if maxDatums <= 0 {
		return nil, fmt.Errorf("max datums must be positive, got %d", maxDatums)
	}

	return &CloudWatch{client: client, namespace: namespace, maxDatums: maxDatums}, nil
}

// NewCloudWatchFromConfig creates a sink backed by a CloudWatch client built from cfg
func NewCloudWatchFromConfig(cfg aws.Config, namespace string, maxDatums int) (*CloudWatch, error) {
	return NewCloudWatch(cloudwatch.NewFromConfig(cfg), namespace, maxDatums)
}

// Send publishes one batch. Oversized batches are rejected without a call.
func (c *CloudWatch) Send(ctx context.Context, batch []metrics.Datapoint) error {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) > c.maxDatums {
		return fmt.Errorf("batch of %d datapoints exceeds limit of %d", len(batch), c.maxDatums)
	}

	data := make([]cwtypes.MetricDatum, 0, len(batch))
	for _, dp := range batch {
		data = append(data, cwtypes.MetricDatum{
			MetricName:        aws.String(dp.Name),
			Value:             aws.Float64(dp.Value),
			Unit:              cwtypes.StandardUnit(dp.Unit),
			Dimensions:        dimensions(dp.Dimensions),
			Timestamp:         aws.Time(dp.Timestamp),
			StorageResolution: aws.Int32(int32(dp.Resolution)),
		})
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}

	return nil
}

func dimensions(dims metrics.Dimensions) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}

	out := make([]cwtypes.Dimension, len(dims))
	for i, d := range dims {
		out[i] = cwtypes.Dimension{Name: aws.String(d.Name), Value: aws.String(d.Value)}
	}
	return out
}
