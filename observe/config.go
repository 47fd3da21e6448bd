package observe

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonwraymond/llmops/observe/exporters"
)

// Config selects the telemetry the gateway emits. Disabled sections fall
// back to no-op providers.
type Config struct {
	ServiceName string        `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Version     string        `yaml:"version" envconfig:"VERSION"`
	Tracing     TracingConfig `yaml:"tracing" envconfig:"TRACING"`
	Metrics     MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
	Logging     LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Exporter is one of otlp, jaeger, stdout or none.
	Exporter string `yaml:"exporter" envconfig:"EXPORTER"`
	// Endpoint overrides the OTEL_EXPORTER_OTLP_* environment.
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Insecure bool   `yaml:"insecure" envconfig:"INSECURE"`
	// SamplePct is the fraction of dispatches traced, in [0, 1].
	SamplePct float64 `yaml:"sample_pct" envconfig:"SAMPLE_PCT"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Exporter is one of otlp, prometheus, stdout or none.
	Exporter string `yaml:"exporter" envconfig:"EXPORTER"`
	Endpoint string `yaml:"endpoint" envconfig:"ENDPOINT"`
	Insecure bool   `yaml:"insecure" envconfig:"INSECURE"`
	// Interval between pushes for otlp and stdout. Zero uses the SDK default.
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
	// Level is debug, info, warn or error.
	Level string `yaml:"level" envconfig:"LEVEL"`
}

// Validate reports every problem in c, not just the first.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, ErrMissingServiceName)
	}

	if t := c.Tracing; t.Enabled {
		if !slices.Contains(exporters.TraceExporters, t.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTracingExporter, t.Exporter))
		}
		if t.SamplePct < 0 || t.SamplePct > 1 {
			errs = append(errs, fmt.Errorf("%w: %g", ErrInvalidSamplePct, t.SamplePct))
		}
	}

	if m := c.Metrics; m.Enabled {
		if !slices.Contains(exporters.MetricExporters, m.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, m.Exporter))
		}
		if m.Interval < 0 {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidInterval, m.Interval))
		}
	}

	if c.Logging.Enabled {
		if _, err := ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t TracingConfig) target() exporters.Target {
	return exporters.Target{Name: t.Exporter, Endpoint: t.Endpoint, Insecure: t.Insecure}
}

func (m MetricsConfig) target() exporters.Target {
	return exporters.Target{Name: m.Exporter, Endpoint: m.Endpoint, Insecure: m.Insecure, Interval: m.Interval}
}
