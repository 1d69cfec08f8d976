package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	traceSDK "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration for a service
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Participant is attached to every metric so flight and hotel
	// instances can share dashboards.
	Participant string
	// OTLPEndpoint is optional. Without it spans stay in process and
	// metrics are only exposed through the Prometheus exporter.
	OTLPEndpoint string
}

type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter
	config Config
}

// NewTelemetry creates a new telemetry instance with the given config
func NewTelemetry(config Config) *Telemetry {
	return &Telemetry{
		config: config,
		tracer: otel.Tracer(config.ServiceName),
		meter:  otel.Meter(config.ServiceName),
	}
}

// InitTelemetry installs global trace and meter providers. The returned
// shutdown flushes both within the context deadline.
func InitTelemetry(ctx context.Context, config Config) (*Telemetry, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			attribute.String("saga.participant", config.Participant),
		),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build telemetry resource")
	}

	traceProvider, err := setupTracing(ctx, res, config.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}

	meterProvider, err := setupMetrics(ctx, res, config.OTLPEndpoint)
	if err != nil {
		_ = traceProvider.Shutdown(ctx)
		return nil, nil, err
	}

	otel.SetTracerProvider(traceProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	shutdown := func(ctx context.Context) error {
		traceErr := traceProvider.Shutdown(ctx)
		metricErr := meterProvider.Shutdown(ctx)
		if traceErr != nil {
			return errors.Wrap(traceErr, "failed to shut down tracing")
		}
		return errors.Wrap(metricErr, "failed to shut down metrics")
	}

	return NewTelemetry(config), shutdown, nil
}

func setupTracing(ctx context.Context, res *resource.Resource, otlpEndpoint string) (*traceSDK.TracerProvider, error) {
	opts := []traceSDK.TracerProviderOption{
		traceSDK.WithResource(res),
		traceSDK.WithSampler(traceSDK.ParentBased(traceSDK.AlwaysSample())),
	}

	if otlpEndpoint != "" {
		traceExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create trace exporter")
		}
		opts = append(opts, traceSDK.WithBatcher(traceExporter))
	}

	return traceSDK.NewTracerProvider(opts...), nil
}

func setupMetrics(ctx context.Context, res *resource.Resource, otlpEndpoint string) (*metricSDK.MeterProvider, error) {
	prometheusExporter, err := prometheus.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create prometheus exporter")
	}

	opts := []metricSDK.Option{
		metricSDK.WithResource(res),
		metricSDK.WithReader(prometheusExporter),
	}

	if otlpEndpoint != "" {
		otlpExporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create metric exporter")
		}
		opts = append(opts, metricSDK.WithReader(metricSDK.NewPeriodicReader(otlpExporter,
			metricSDK.WithInterval(30*time.Second),
		)))
	}

	return metricSDK.NewMeterProvider(opts...), nil
}

// StartSpan starts a new trace span (method on Telemetry)
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// GetMeter returns the meter instance for creating custom metrics
func (t *Telemetry) GetMeter() metric.Meter {
	return t.meter
}

// GetServiceName returns the service name
func (t *Telemetry) GetServiceName() string {
	return t.config.ServiceName
}

// GetParticipant returns the saga participant the service plays.
func (t *Telemetry) GetParticipant() string {
	return t.config.Participant
}

type contextKey string

const telemetryKey contextKey = "telemetry"

// WithTelemetry injects telemetry into context
func WithTelemetry(ctx context.Context, tel *Telemetry) context.Context {
	return context.WithValue(ctx, telemetryKey, tel)
}

// FromContext extracts telemetry from context
func FromContext(ctx context.Context) *Telemetry {
	if tel, ok := ctx.Value(telemetryKey).(*Telemetry); ok {
		return tel
	}
	return nil
}

// StartSpan starts a new trace span using telemetry from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tel := FromContext(ctx); tel != nil {
		return tel.StartSpan(ctx, name, opts...)
	}
	return otel.Tracer("fallback").Start(ctx, name, opts...)
}

// GetMeter returns meter from context for creating custom metrics
func GetMeter(ctx context.Context) metric.Meter {
	if tel := FromContext(ctx); tel != nil {
		return tel.GetMeter()
	}
	return otel.Meter("fallback")
}

// GetServiceName returns service name from context
func GetServiceName(ctx context.Context) string {
	if tel := FromContext(ctx); tel != nil {
		return tel.GetServiceName()
	}
	return "unknown"
}

func commonAttributes(ctx context.Context, attrs []attribute.KeyValue) []attribute.KeyValue {
	attrs = append(attrs, attribute.String("service", GetServiceName(ctx)))
	if tel := FromContext(ctx); tel != nil && tel.config.Participant != "" {
		attrs = append(attrs, attribute.String("participant", tel.config.Participant))
	}
	return attrs
}

// Instruments are created once per meter and name. Meters hand back the
// same instrument anyway but the lookup on every message is measurable.
var instruments sync.Map

type instrumentKey struct {
	meter metric.Meter
	kind  string
	name  string
}

func loadInstrument[T any](meter metric.Meter, kind, name string, create func() (T, error)) (T, error) {
	key := instrumentKey{meter: meter, kind: kind, name: name}
	if cached, ok := instruments.Load(key); ok {
		return cached.(T), nil
	}
	created, err := create()
	if err != nil {
		return created, err
	}
	actual, _ := instruments.LoadOrStore(key, created)
	return actual.(T), nil
}

// RecordCounter records a counter metric
func RecordCounter(ctx context.Context, name, description string, value int64, attrs ...attribute.KeyValue) {
	meter := GetMeter(ctx)
	counter, err := loadInstrument(meter, "counter", name, func() (metric.Int64Counter, error) {
		return meter.Int64Counter(name, metric.WithDescription(description))
	})
	if err != nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(commonAttributes(ctx, attrs)...))
}

// RecordHistogram records a histogram metric
func RecordHistogram(ctx context.Context, name, description string, value float64, attrs ...attribute.KeyValue) {
	meter := GetMeter(ctx)
	histogram, err := loadInstrument(meter, "histogram", name, func() (metric.Float64Histogram, error) {
		return meter.Float64Histogram(name, metric.WithDescription(description))
	})
	if err != nil {
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(commonAttributes(ctx, attrs)...))
}

// RecordGauge records a gauge metric
func RecordGauge(ctx context.Context, name, description string, value float64, attrs ...attribute.KeyValue) {
	meter := GetMeter(ctx)
	gauge, err := loadInstrument(meter, "gauge", name, func() (metric.Float64Gauge, error) {
		return meter.Float64Gauge(name, metric.WithDescription(description))
	})
	if err != nil {
		return
	}
	gauge.Record(ctx, value, metric.WithAttributes(commonAttributes(ctx, attrs)...))
}
