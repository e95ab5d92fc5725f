package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/orrery/internal/logging"
)

// Tracing environment variables.
const (
	EnvTracingEnabled    = "ORRERY_TRACING_ENABLED"
	EnvTracingExporter   = "ORRERY_TRACING_EXPORTER"
	EnvTracingService    = "ORRERY_TRACING_SERVICE_NAME"
	EnvTracingRatio      = "ORRERY_TRACING_SAMPLE_RATIO"
	EnvTracingAttributes = "ORRERY_TRACING_ATTRIBUTES"
	EnvOTLPEndpoint      = "ORRERY_OTLP_ENDPOINT"
	EnvOTLPInsecure      = "ORRERY_OTLP_INSECURE"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig selects the span exporter and sampling.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector host:port
	Insecure    bool   // otlp without TLS
	SampleRatio float64

	// Attributes are added to the trace resource.
	Attributes map[string]string

	// Output receives stdout exporter spans; os.Stdout when nil.
	Output io.Writer
}

// TracingConfigFromEnv reads the ORRERY_TRACING_* and ORRERY_OTLP_*
// variables. Unset or malformed values keep their defaults.
func TracingConfigFromEnv() TracingConfig {
	return tracingConfigFrom(os.Getenv)
}

func tracingConfigFrom(getenv func(string) string) TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(getenv(EnvTracingEnabled), "true"),
		ServiceName: "orrery",
		Exporter:    "stdout",
		Endpoint:    getenv(EnvOTLPEndpoint),
		Insecure:    true,
		SampleRatio: 1,
		Attributes:  parseAttributes(getenv(EnvTracingAttributes)),
	}
	if v := strings.ToLower(getenv(EnvTracingExporter)); v != "" {
		cfg.Exporter = v
	}
	if v := getenv(EnvTracingService); v != "" {
		cfg.ServiceName = v
	}
	if v, err := strconv.ParseFloat(getenv(EnvTracingRatio), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	if v, err := strconv.ParseBool(getenv(EnvOTLPInsecure)); err == nil {
		cfg.Insecure = v
	}
	return cfg
}

// parseAttributes reads "k1=v1,k2=v2"; malformed pairs are skipped.
func parseAttributes(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// InitTracing installs the global tracer provider and propagators. With
// tracing disabled a noop provider is installed. The returned function
// flushes pending spans and shuts the provider down.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func resourceAttributes(cfg TracingConfig) []attribute.KeyValue {
	service := cfg.ServiceName
	if service == "" {
		service = "orrery"
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "orrery"),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	return attrs
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout gives shutdown five seconds and logs a failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
