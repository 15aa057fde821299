package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"serving-probe/internal/metrics"
	"serving-probe/internal/payload"
	"serving-probe/internal/sender"
	"serving-probe/internal/sink"
	"serving-probe/internal/slo"
)

// EnvPrefix prefixes every environment override, e.g. SERVING_PROBE_SESSION_TARGET_RATE_RPS
const EnvPrefix = "SERVING_PROBE"

// Target kinds
const (
	TargetHTTP    = "http"
	TargetBedrock = "bedrock"
)

// Metric sink kinds
const (
	SinkNone        = "none"
	SinkLog         = "log"
	SinkCloudWatch  = "cloudwatch"
	SinkPushgateway = "pushgateway"
)

// ErrInvalidConfig is wrapped by every validation error
var ErrInvalidConfig = errors.New("invalid configuration")

// FieldError names the configuration field that failed validation
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config represents the complete configuration of a probe session
type Config struct {
	Target  TargetConfig  `mapstructure:"target"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Session SessionConfig `mapstructure:"session"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	SLO     SLOConfig     `mapstructure:"slo"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
}

// TargetConfig describes the endpoint under test
type TargetConfig struct {
	Kind         string            `mapstructure:"kind"`
	URL          string            `mapstructure:"url"`
	Host         string            `mapstructure:"host"`
	EndpointName string            `mapstructure:"endpoint_name"`
	Token        string            `mapstructure:"token"`
	Headers      map[string]string `mapstructure:"headers"`
	ModelID      string            `mapstructure:"model_id"`
}

// AWSConfig contains AWS credentials and region
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// SessionConfig defines pacing and bounds of the session
type SessionConfig struct {
	// SampleCount takes precedence over DurationSeconds when positive
	DurationSeconds         float64 `mapstructure:"duration_seconds"`
	SampleCount             int     `mapstructure:"sample_count"`
	TargetRateRPS           float64 `mapstructure:"target_rate_rps"`
	TimeoutSeconds          float64 `mapstructure:"timeout_seconds"`
	Mode                    string  `mapstructure:"mode"`
	Concurrency             int     `mapstructure:"concurrency"`
	ProgressIntervalSeconds float64 `mapstructure:"progress_interval_seconds"`
	Seed                    uint64  `mapstructure:"seed"`
}

// MetricsConfig defines datapoint emission
type MetricsConfig struct {
	Sink                string   `mapstructure:"sink"`
	Live                bool     `mapstructure:"live"`
	FlushEveryNRequests int      `mapstructure:"flush_every_n_requests"`
	MaxBatchSize        int      `mapstructure:"max_batch_size"`
	HighResolution      bool     `mapstructure:"high_resolution"`
	Dimensions          []string `mapstructure:"dimensions"`
	Namespace           string   `mapstructure:"namespace"`
	PushgatewayURL      string   `mapstructure:"pushgateway_url"`
	PushgatewayJob      string   `mapstructure:"pushgateway_job"`
	RetainFailed        bool     `mapstructure:"retain_failed"`
}

// SLOConfig defines the thresholds checked after the session
type SLOConfig struct {
	Assert     bool     `mapstructure:"assert"`
	Thresholds []string `mapstructure:"thresholds"`
}

// OutputConfig defines output settings
type OutputConfig struct {
	ReportFile string `mapstructure:"report_file"`
	JSON       bool   `mapstructure:"json"`
}

// LogConfig defines logger settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.kind", TargetHTTP)
	v.SetDefault("target.url", "")
	v.SetDefault("target.host", "")
	v.SetDefault("target.endpoint_name", "")
	v.SetDefault("target.token", "")
	v.SetDefault("target.model_id", "")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")

	v.SetDefault("session.duration_seconds", 60.0)
	v.SetDefault("session.sample_count", 0)
	v.SetDefault("session.target_rate_rps", 5.0)
	v.SetDefault("session.timeout_seconds", 30.0)
	v.SetDefault("session.mode", string(payload.ModeNormal))
	v.SetDefault("session.concurrency", 1)
	v.SetDefault("session.progress_interval_seconds", 5.0)
	v.SetDefault("session.seed", 0)

	v.SetDefault("metrics.sink", SinkNone)
	v.SetDefault("metrics.live", false)
	v.SetDefault("metrics.flush_every_n_requests", 20)
	v.SetDefault("metrics.max_batch_size", metrics.DefaultMaxBatchSize)
	v.SetDefault("metrics.high_resolution", false)
	v.SetDefault("metrics.dimensions", []string{})
	v.SetDefault("metrics.namespace", "ServingProbe")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.pushgateway_job", "serving_probe")
	v.SetDefault("metrics.retain_failed", false)

	v.SetDefault("slo.assert", false)
	v.SetDefault("slo.thresholds", []string{"p95_ms<=1500", "error_rate_pct<=5"})

	v.SetDefault("output.report_file", "")
	v.SetDefault("output.json", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"kind":              "target.kind",
	"url":               "target.url",
	"host":              "target.host",
	"endpoint":          "target.endpoint_name",
	"model-id":          "target.model_id",
	"region":            "aws.region",
	"duration":          "session.duration_seconds",
	"samples":           "session.sample_count",
	"rate":              "session.target_rate_rps",
	"timeout":           "session.timeout_seconds",
	"mode":              "session.mode",
	"concurrency":       "session.concurrency",
	"seed":              "session.seed",
	"sink":              "metrics.sink",
	"live-metrics":      "metrics.live",
	"flush-every":       "metrics.flush_every_n_requests",
	"max-batch-size":    "metrics.max_batch_size",
	"high-resolution":   "metrics.high_resolution",
	"dimension":         "metrics.dimensions",
	"namespace":         "metrics.namespace",
	"pushgateway-url":   "metrics.pushgateway_url",
	"assert-slo":        "slo.assert",
	"threshold":         "slo.thresholds",
	"report":            "output.report_file",
	"json":              "output.json",
	"log-level":         "log.level",
	"log-json":          "log.json",
	"progress-interval": "session.progress_interval_seconds",
}

// RegisterFlags adds the probe flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to configuration file (json or yaml)")

	fs.String("kind", "", "Target kind: http or bedrock")
	fs.StringP("url", "u", "", "Full invocation URL of the endpoint")
	fs.String("host", "", "Serving host, combined with --endpoint into the invocation URL")
	fs.StringP("endpoint", "e", "", "Serving endpoint name")
	fs.String("model-id", "", "Bedrock model id")
	fs.String("region", "", "AWS region")

	fs.Float64P("duration", "d", 0, "Session duration in seconds")
	fs.IntP("samples", "n", 0, "Number of requests, overrides --duration")
	fs.Float64P("rate", "r", 0, "Target request rate per second")
	fs.Float64P("timeout", "t", 0, "Per-request timeout in seconds")
	fs.String("mode", "", "Payload mode: normal or failure")
	fs.Int("concurrency", 0, "Number of workers sharing the target rate")
	fs.Uint64("seed", 0, "Payload generator seed, random when 0")
	fs.Float64("progress-interval", 0, "Seconds between progress log lines, 0 disables")

	fs.String("sink", "", "Metric sink: none, log, cloudwatch or pushgateway")
	fs.Bool("live-metrics", false, "Emit per-request datapoints")
	fs.Int("flush-every", 0, "Flush datapoints every N requests")
	fs.Int("max-batch-size", 0, "Maximum datapoints per sink call")
	fs.Bool("high-resolution", false, "Use 1 second storage resolution")
	fs.StringSlice("dimension", nil, "Metric dimension as Name=Value (max 2)")
	fs.String("namespace", "", "CloudWatch namespace")
	fs.String("pushgateway-url", "", "Prometheus Pushgateway URL")

	fs.Bool("assert-slo", false, "Exit non-zero when an SLO threshold is violated")
	fs.StringSlice("threshold", nil, "SLO threshold such as p95_ms<=1500 (repeatable)")

	fs.String("report", "", "Write a markdown report to this file")
	fs.Bool("json", false, "Print the summary as JSON")
	fs.String("log-level", "", "Log level")
	fs.Bool("log-json", false, "Log as JSON")
}

// LoadConfig layers defaults, the optional configuration file, environment
// overrides and explicitly set flags, then validates the result
func LoadConfig(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the serving platform tooling
	_ = v.BindEnv("target.token", EnvPrefix+"_TARGET_TOKEN", "DATABRICKS_TOKEN")
	_ = v.BindEnv("target.host", EnvPrefix+"_TARGET_HOST", "DATABRICKS_HOST")
	_ = v.BindEnv("aws.region", EnvPrefix+"_AWS_REGION", "AWS_REGION")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Target.Kind {
	case TargetHTTP:
		if _, err := c.TargetURL(); err != nil {
			return fieldErr("target.url", "%v", err)
		}
	case TargetBedrock:
		if c.Target.ModelID == "" {
			return fieldErr("target.model_id", "is required for bedrock targets")
		}
		if c.AWS.Region == "" {
			return fieldErr("aws.region", "is required for bedrock targets")
		}
	default:
		return fieldErr("target.kind", "must be %q or %q, got %q", TargetHTTP, TargetBedrock, c.Target.Kind)
	}

	// access_key_id and secret_access_key are optional, the SDK falls back to
	// its default credential chain
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fieldErr("aws.secret_access_key", "access_key_id and secret_access_key must be set together")
	}

	if c.Session.SampleCount < 0 {
		return fieldErr("session.sample_count", "must not be negative")
	}
	if c.Session.SampleCount == 0 {
		if err := checkSeconds("session.duration_seconds", c.Session.DurationSeconds, false); err != nil {
			return err
		}
	}
	if r := c.Session.TargetRateRPS; math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return fieldErr("session.target_rate_rps", "must be a positive finite number, got %g", r)
	}
	if 1/c.Session.TargetRateRPS > maxSeconds {
		return fieldErr("session.target_rate_rps", "interval of %g is out of range", c.Session.TargetRateRPS)
	}
	if err := checkSeconds("session.timeout_seconds", c.Session.TimeoutSeconds, false); err != nil {
		return err
	}
	switch payload.Mode(c.Session.Mode) {
	case payload.ModeNormal, payload.ModeFailure:
	default:
		return fieldErr("session.mode", "must be %q or %q, got %q", payload.ModeNormal, payload.ModeFailure, c.Session.Mode)
	}
	if c.Session.Concurrency < 1 {
		return fieldErr("session.concurrency", "must be at least 1")
	}
	if err := checkSeconds("session.progress_interval_seconds", c.Session.ProgressIntervalSeconds, true); err != nil {
		return err
	}

	switch c.Metrics.Sink {
	case SinkNone, SinkLog:
	case SinkCloudWatch:
		if c.Metrics.Namespace == "" {
			return fieldErr("metrics.namespace", "is required for the cloudwatch sink")
		}
		if c.AWS.Region == "" {
			return fieldErr("aws.region", "is required for the cloudwatch sink")
		}
	case SinkPushgateway:
		if c.Metrics.PushgatewayURL == "" {
			return fieldErr("metrics.pushgateway_url", "is required for the pushgateway sink")
		}
		if c.Metrics.PushgatewayJob == "" {
			return fieldErr("metrics.pushgateway_job", "is required for the pushgateway sink")
		}
		dims, err := c.MetricDimensions()
		if err != nil {
			return fieldErr("metrics.dimensions", "%v", err)
		}
		for _, d := range dims {
			if sink.ReservedLabel(d.Name) {
				return fieldErr("metrics.dimensions", "dimension %q collides with a pushgateway grouping label", d.Name)
			}
		}
	default:
		return fieldErr("metrics.sink", "unknown sink %q", c.Metrics.Sink)
	}
	if c.Metrics.FlushEveryNRequests <= 0 {
		return fieldErr("metrics.flush_every_n_requests", "must be positive")
	}
	if c.Metrics.MaxBatchSize <= 0 {
		return fieldErr("metrics.max_batch_size", "must be positive")
	}
	if _, err := c.MetricDimensions(); err != nil {
		return fieldErr("metrics.dimensions", "%v", err)
	}

	if c.SLO.Assert && len(c.SLO.Thresholds) == 0 {
		return fieldErr("slo.thresholds", "must not be empty when slo.assert is set")
	}
	for i, expr := range c.SLO.Thresholds {
		if _, err := slo.ParseThreshold(expr); err != nil {
			return fieldErr(fmt.Sprintf("slo.thresholds[%d]", i), "%v", err)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fieldErr("log.level", "%v", err)
	}

	return nil
}

// TargetURL returns the explicit URL or the one derived from host and endpoint name
func (c *Config) TargetURL() (string, error) {
	if c.Target.URL != "" {
		return c.Target.URL, nil
	}
	if c.Target.Host == "" && c.Target.EndpointName == "" {
		return "", errors.New("url or host and endpoint_name are required")
	}
	return sender.ServingURL(c.Target.Host, c.Target.EndpointName)
}

// MetricDimensions parses the Name=Value dimension list
func (c *Config) MetricDimensions() (metrics.Dimensions, error) {
	dims := make([]metrics.Dimension, 0, len(c.Metrics.Dimensions))
	for _, d := range c.Metrics.Dimensions {
		name, value, ok := strings.Cut(d, "=")
		if !ok {
			return nil, fmt.Errorf("dimension %q is not Name=Value", d)
		}
		dims = append(dims, metrics.Dimension{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return metrics.NewDimensions(dims...)
}

// Thresholds parses the configured SLO thresholds
func (c *Config) Thresholds() ([]slo.Threshold, error) {
	return slo.ParseThresholds(c.SLO.Thresholds)
}

// Duration returns the session duration, zero when the session is count bounded
func (s SessionConfig) Duration() time.Duration {
	if s.SampleCount > 0 {
		return 0
	}
	return seconds(s.DurationSeconds)
}

// Timeout returns the per-request timeout
func (s SessionConfig) Timeout() time.Duration {
	return seconds(s.TimeoutSeconds)
}

// ProgressInterval returns the progress log interval
func (s SessionConfig) ProgressInterval() time.Duration {
	return seconds(s.ProgressIntervalSeconds)
}

// Resolution returns the storage resolution of emitted datapoints
func (m MetricsConfig) Resolution() metrics.Resolution {
	if m.HighResolution {
		return metrics.ResolutionHigh
	}
	return metrics.ResolutionStandard
}

// maxSeconds is the longest span a time.Duration holds
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func checkSeconds(field string, v float64, allowZero bool) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fieldErr(field, "must be a finite number, got %g", v)
	case v < 0 || (v == 0 && !allowZero):
		return fieldErr(field, "must be positive, got %g", v)
	case v > maxSeconds:
		return fieldErr(field, "%g seconds is out of range", v)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
