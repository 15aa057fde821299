package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serving-probe/internal/metrics"
)

var dims = metrics.Dimensions{
	{Name: "EndpointName", Value: "energy-prod"},
	{Name: "Mode", Value: "normal"},
}

func batch(n int) []metrics.Datapoint {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]metrics.Datapoint, n)
	for i := range out {
		out[i] = metrics.Datapoint{
			Name:       metrics.NameLatency,
			Value:      float64(i),
			Unit:       metrics.UnitMilliseconds,
			Dimensions: dims,
			Timestamp:  at,
			Resolution: metrics.ResolutionHigh,
		}
	}
	return out
}

type fakeCloudWatch struct {
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMapsDatapoints(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw, err := NewCloudWatch(fake, "ServingProbe", 20)
	require.NoError(t, err)

	require.NoError(t, cw.Send(context.Background(), batch(3)))
	require.Len(t, fake.calls, 1)

	in := fake.calls[0]
	assert.Equal(t, "ServingProbe", *in.Namespace)
	require.Len(t, in.MetricData, 3)

	d := in.MetricData[2]
	assert.Equal(t, metrics.NameLatency, *d.MetricName)
	assert.Equal(t, 2.0, *d.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, d.Unit)
	assert.Equal(t, int32(1), *d.StorageResolution)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *d.Timestamp)
	require.Len(t, d.Dimensions, 2)
	assert.Equal(t, "EndpointName", *d.Dimensions[0].Name)
	assert.Equal(t, "normal", *d.Dimensions[1].Value)
}

func TestCloudWatchRejectsOversizedBatch(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw, err := NewCloudWatch(fake, "ServingProbe", 20)
	require.NoError(t, err)

	assert.Error(t, cw.Send(context.Background(), batch(21)))
	assert.Empty(t, fake.calls)
}

func TestCloudWatchEmptyBatchIsNoop(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw, err := NewCloudWatch(fake, "ServingProbe", 20)
	require.NoError(t, err)

	assert.NoError(t, cw.Send(context.Background(), nil))
	assert.Empty(t, fake.calls)
}

func TestCloudWatchWrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	cw, err := NewCloudWatch(&fakeCloudWatch{err: boom}, "ServingProbe", 20)
	require.NoError(t, err)

	err = cw.Send(context.Background(), batch(1))
	assert.ErrorIs(t, err, boom)
}

func TestNewCloudWatchValidation(t *testing.T) {
	_, err := NewCloudWatch(nil, "ns", 20)
	assert.Error(t, err)
	_, err = NewCloudWatch(&fakeCloudWatch{}, "", 20)
	assert.Error(t, err)
	_, err = NewCloudWatch(&fakeCloudWatch{}, "ns", 0)
	assert.Error(t, err)
}

func TestCloudWatchWithBatcher(t *testing.T) {
	fake := &fakeCloudWatch{}
	cw, err := NewCloudWatch(fake, "ServingProbe", 20)
	require.NoError(t, err)

	b, err := metrics.NewBatcher(cw, metrics.BatcherConfig{MaxBatchSize: 20, FlushEvery: 1})
	require.NoError(t, err)

	b.Enqueue(batch(45)...)
	require.NoError(t, b.Flush(context.Background()))

	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0].MetricData, 20)
	assert.Len(t, fake.calls[1].MetricData, 20)
	assert.Len(t, fake.calls[2].MetricData, 5)
}

func TestPushgatewaySend(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body)
		assert.Equal(t, http.MethodPut, r.Method)

		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewPushgateway(server.URL, "serving_probe", "run_id", "abc")
	require.NoError(t, err)

	points := batch(2)
	points[1].Name = metrics.NameErrorRate
	points[1].Value = 12.5
	require.NoError(t, p.Send(context.Background(), points))

	mu.Lock()
	assert.Equal(t, []string{"/metrics/job/serving_probe/run_id/abc"}, paths)
	mu.Unlock()

	assert.Equal(t, 12.5, testutil.ToFloat64(p.gauges[metrics.NameErrorRate].WithLabelValues("energy-prod", "normal")))
	n, err := testutil.GatherAndCount(p.registry)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPushgatewayKeepsLatestValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewPushgateway(server.URL, "serving_probe")
	require.NoError(t, err)

	require.NoError(t, p.Send(context.Background(), batch(5)))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.gauges[metrics.NameLatency].WithLabelValues("energy-prod", "normal")))
}

func TestPushgatewayServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p, err := NewPushgateway(server.URL, "serving_probe")
	require.NoError(t, err)

	assert.Error(t, p.Send(context.Background(), batch(1)))
}

func TestNewPushgatewayValidation(t *testing.T) {
	_, err := NewPushgateway("", "job")
	assert.Error(t, err)
	_, err = NewPushgateway("http://gw", "")
	assert.Error(t, err)
	_, err = NewPushgateway("http://gw", "job", "run_id")
	assert.Error(t, err)
}

func TestPushgatewayRejectsGroupingLabelDimensions(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, err := NewPushgateway(server.URL, "serving_probe", GroupingRunID, "abc")
	require.NoError(t, err)

	points := batch(1)
	points[0].Dimensions = metrics.Dimensions{{Name: "RunId", Value: "other"}}
	err = p.Send(context.Background(), points)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id")
	assert.Zero(t, calls)
}

func TestReservedLabel(t *testing.T) {
	assert.True(t, ReservedLabel("run_id"))
	assert.True(t, ReservedLabel("RunId"))
	assert.True(t, ReservedLabel("Job"))
	assert.False(t, ReservedLabel("EndpointName"))
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "latency_p95_ms", snakeCase("LatencyP95Ms"))
	assert.Equal(t, "request_error", snakeCase("RequestError"))
	assert.Equal(t, "error_rate_pct", snakeCase("ErrorRatePct"))
	assert.Equal(t, "endpoint_name", snakeCase("EndpointName"))
	assert.Equal(t, "run_mode", snakeCase("run-mode"))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(zerolog.New(&buf))

	require.NoError(t, l.Send(context.Background(), batch(2)))

	out := buf.String()
	assert.Contains(t, out, `"metric":"LatencyMs"`)
	assert.Contains(t, out, `"EndpointName":"energy-prod"`)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"message":"datapoint"`)))
}
