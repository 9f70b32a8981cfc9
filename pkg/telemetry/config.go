package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config bundles logging, tracing and metrics settings for one fusionctl
// process.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog logger. Output is "stderr", "stdout"
// or a file path.
type LoggingConfig struct {
	Level        string
	Format       string // console or json
	Output       string
	EnableCaller bool
	TimeFormat   string // rfc3339, unix or unixms
}

// TracingConfig selects the span exporter. The otlp exporter dials Endpoint
// over gRPC.
type TracingConfig struct {
	Enabled            bool
	Exporter           string // otlp, stdout or none
	Endpoint           string
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Headers            map[string]string
	Insecure           bool
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled                 bool
	ListenAddress           string
	Path                    string
	Namespace               string
	DefaultHistogramBuckets []float64
}

var (
	logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	exporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// requestBuckets cover a fast local server up to a slow schema reload.
var requestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// DefaultConfig returns the CLI defaults: console logs on stderr, tracing and
// metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "fusionctl",
		ServiceVersion: "dev",
		Environment:    "cli",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress:           ":9090",
			Path:                    "/metrics",
			Namespace:               "fusionctl",
			DefaultHistogramBuckets: requestBuckets,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if !logLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format))
	}
	if c.Tracing.Enabled {
		if !exporters[c.Tracing.Exporter] {
			errs = append(errs, fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter))
		} else if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate))
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}
