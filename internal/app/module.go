package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"go.uber.org/fx"

	"serving-probe/internal/benchmark"
	"serving-probe/internal/config"
	"serving-probe/internal/metrics"
	"serving-probe/internal/payload"
	"serving-probe/internal/sender"
	"serving-probe/internal/sink"
)

// RunID identifies one probe session in logs, metrics and reports
type RunID string

// Module provides the probe session and its collaborators. It expects
// *config.Config and zerolog.Logger to be supplied.
var Module = fx.Module("probe",
	fx.Provide(
		NewRunID,
		NewSender,
		NewSink,
		NewGenerator,
		NewLoop,
		NewEmitter,
		NewBatcher,
		NewSession,
	),
)

// NewRunID returns a fresh, time-ordered run id
func NewRunID() RunID {
	return RunID(ksuid.New().String())
}

// NewSender provides the request sender for the configured target kind
func NewSender(lc fx.Lifecycle, cfg *config.Config) (sender.Sender, error) {
	switch cfg.Target.Kind {
	case config.TargetBedrock:
		awsCfg, err := config.LoadAWS(context.Background(), cfg.AWS)
		if err != nil {
			return nil, err
		}
		return sender.NewBedrockSender(awsCfg, cfg.Target.ModelID)
	default:
		u, err := cfg.TargetURL()
		if err != nil {
			return nil, err
		}

		s, err := sender.NewHTTPSender(sender.HTTPConfig{
			URL:     u,
			Token:   cfg.Target.Token,
			Headers: cfg.Target.Headers,
		})
		if err != nil {
			return nil, err
		}

		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				s.CloseIdleConnections()
				return nil
			},
		})

		return s, nil
	}
}

// NewSink provides the configured metric sink, nil when metrics are disabled
func NewSink(cfg *config.Config, runID RunID, log zerolog.Logger) (metrics.Sink, error) {
	switch cfg.Metrics.Sink {
	case config.SinkLog:
		return sink.NewLog(log), nil
	case config.SinkCloudWatch:
		awsCfg, err := config.LoadAWS(context.Background(), cfg.AWS)
		if err != nil {
			return nil, err
		}
		return sink.NewCloudWatchFromConfig(awsCfg, cfg.Metrics.Namespace, cfg.Metrics.MaxBatchSize)
	case config.SinkPushgateway:
		return sink.NewPushgateway(cfg.Metrics.PushgatewayURL, cfg.Metrics.PushgatewayJob, sink.GroupingRunID, string(runID))
	default:
		return nil, nil
	}
}

// NewGenerator provides the payload generator
func NewGenerator(cfg *config.Config) (*payload.Generator, error) {
	var opts []payload.Option
	if cfg.Session.Seed != 0 {
		opts = append(opts, payload.WithSeed(cfg.Session.Seed))
	}
	return payload.NewGenerator(payload.Mode(cfg.Session.Mode), opts...)
}

// NewLoop provides a single paced runner, or a worker pool when concurrency is above one
func NewLoop(cfg *config.Config, gen *payload.Generator, s sender.Sender, log zerolog.Logger) (benchmark.Loop, error) {
	rc := benchmark.RunnerConfig{
		Duration:         cfg.Session.Duration(),
		SampleCount:      cfg.Session.SampleCount,
		Rate:             cfg.Session.TargetRateRPS,
		Timeout:          cfg.Session.Timeout(),
		ProgressInterval: cfg.Session.ProgressInterval(),
	}

	if cfg.Session.Concurrency > 1 {
		return benchmark.NewWorkerPool(rc, cfg.Session.Concurrency, gen, s, log)
	}
	return benchmark.NewRunner(rc, gen, s, log)
}

// NewEmitter provides the datapoint emitter with the session dimensions
func NewEmitter(cfg *config.Config) (*metrics.Emitter, error) {
	dims, err := cfg.MetricDimensions()
	if err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		if dims, err = defaultDimensions(cfg); err != nil {
			return nil, err
		}
	}
	return metrics.NewEmitter(dims, cfg.Metrics.Resolution()), nil
}

// NewBatcher provides the metric batcher, nil when there is no sink
func NewBatcher(cfg *config.Config, s metrics.Sink) (*metrics.Batcher, error) {
	if s == nil {
		return nil, nil
	}
	return metrics.NewBatcher(s, metrics.BatcherConfig{
		MaxBatchSize: cfg.Metrics.MaxBatchSize,
		FlushEvery:   cfg.Metrics.FlushEveryNRequests,
		RetainFailed: cfg.Metrics.RetainFailed,
	})
}

// NewSession provides the probe session
func NewSession(cfg *config.Config, runID RunID, loop benchmark.Loop, emitter *metrics.Emitter, batcher *metrics.Batcher, log zerolog.Logger) (*benchmark.Session, error) {
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}

	return benchmark.NewSession(benchmark.SessionConfig{
		RunID:       string(runID),
		LiveMetrics: cfg.Metrics.Live,
		Thresholds:  thresholds,
	}, loop, emitter, batcher, log)
}

// defaultDimensions tags datapoints with the endpoint identity and the run mode
func defaultDimensions(cfg *config.Config) (metrics.Dimensions, error) {
	name := cfg.Target.EndpointName
	switch {
	case cfg.Target.Kind == config.TargetBedrock:
		name = cfg.Target.ModelID
	case name == "" && cfg.Target.URL != "":
		u, err := url.Parse(cfg.Target.URL)
		if err != nil {
			return nil, fmt.Errorf("parse target url: %w", err)
		}
		name = u.Host
	}

	dims := []metrics.Dimension{{Name: "Mode", Value: cfg.Session.Mode}}
	if name != "" {
		dims = append([]metrics.Dimension{{Name: "EndpointName", Value: name}}, dims...)
	}
	return metrics.NewDimensions(dims...)
}
