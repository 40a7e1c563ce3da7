package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	metrics "github.com/tigerroll/etlcore/pkg/etl/core/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	logger "github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// Metric backends and trace exporters accepted by Setup.
const (
	BackendPrometheus = "prometheus"
	BackendOTLP       = "otlp"
	BackendNone       = "none"

	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Telemetry bundles the configured recorder and tracer with the providers
// that must be flushed on shutdown.
type Telemetry struct {
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	// Prometheus is set when the prometheus backend is selected.
	Prometheus *PrometheusRecorder

	async    *AsyncMetricRecorder
	shutdown []func(context.Context) error
}

// Setup builds the metric recorder and tracer described by the configuration.
// Unknown backends are a ConfigError.
func Setup(ctx context.Context, mcfg config.MetricsConfig, tcfg config.TracingConfig) (*Telemetry, error) {
	t := &Telemetry{Recorder: metrics.NewNoOpMetricRecorder(), Tracer: metrics.NewNoOpTracer()}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName(tcfg)))

	switch strings.ToLower(mcfg.Backend) {
	case "", BackendNone:
		logger.Infof("Metrics: disabled.")
	case BackendPrometheus:
		t.Prometheus = NewPrometheusRecorder(mcfg.Namespace)
		t.Recorder = t.Prometheus
		logger.Infof("Metrics: Prometheus recorder enabled (namespace: %s).", mcfg.Namespace)
	case BackendOTLP:
		exp, err := newMetricExporter(ctx, mcfg)
		if err != nil {
			return nil, exception.New(exception.ConfigError, "telemetry", "cannot create OTLP metric exporter", err)
		}
		interval := mcfg.ExportInterval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		t.shutdown = append(t.shutdown, mp.Shutdown)
		rec, err := NewOTelRecorder(mp, mcfg.Namespace)
		if err != nil {
			_ = mp.Shutdown(ctx)
			return nil, exception.New(exception.ConfigError, "telemetry", "cannot create OTLP instruments", err)
		}
		t.Recorder = rec
		logger.Infof("Metrics: OTLP recorder enabled (protocol: %s, endpoint: %s).", mcfg.Protocol, mcfg.Endpoint)
	default:
		return nil, exception.Newf(exception.ConfigError, "telemetry", "unknown metrics backend '%s'", mcfg.Backend)
	}

	if mcfg.AsyncBufferSize > 0 {
		if _, noop := t.Recorder.(*metrics.NoOpMetricRecorder); !noop {
			t.async = NewAsyncMetricRecorder(mcfg.AsyncBufferSize, t.Recorder)
			t.Recorder = t.async
		}
	}

	if tcfg.Enabled {
		exp, err := newSpanExporter(ctx, tcfg)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		if exp != nil {
			ratio := tcfg.SampleRatio
			if ratio <= 0 || ratio > 1 {
				ratio = 1
			}
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithResource(res),
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			)
			otel.SetTracerProvider(tp)
			t.shutdown = append(t.shutdown, tp.Shutdown)
			t.Tracer = NewOpenTelemetryTracer(tp)
			logger.Infof("Tracing: %s exporter enabled (endpoint: %s, sample ratio: %.2f).", tcfg.Exporter, tcfg.Endpoint, ratio)
		}
	}
	return t, nil
}

// MetricsHandler returns the scrape handler, or nil when Prometheus is not in use.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.Prometheus == nil {
		return nil
	}
	return t.Prometheus.Handler()
}

// Shutdown drains the async recorder and flushes every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.async != nil {
		t.async.Close()
	}
	var result *multierror.Error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		if err := t.shutdown[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.shutdown = nil
	return result.ErrorOrNil()
}

func serviceName(tcfg config.TracingConfig) string {
	if tcfg.ServiceName != "" {
		return tcfg.ServiceName
	}
	return "etlcore"
}

func newMetricExporter(ctx context.Context, cfg config.MetricsConfig) (sdkmetric.Exporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "", "grpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http":
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown OTLP protocol '%s'", cfg.Protocol)
	}
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", BackendNone:
		logger.Infof("Tracing: enabled without an exporter; spans are not recorded.")
		return nil, nil
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, exception.New(exception.ConfigError, "telemetry", "cannot create OTLP gRPC span exporter", err)
		}
		return exp, nil
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, exception.New(exception.ConfigError, "telemetry", "cannot create OTLP HTTP span exporter", err)
		}
		return exp, nil
	default:
		return nil, exception.Newf(exception.ConfigError, "telemetry", "unknown trace exporter '%s'", cfg.Exporter)
	}
}
