// Package observability holds orrery's Prometheus collectors and the
// OpenTelemetry tracing bootstrap.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var rpcLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// ControlCollector holds the control API metrics: per-method call counts
// and latency, open event streams, messages pushed on them, and the size
// of the loaded catalog.
type ControlCollector struct {
	gatherer prometheus.Gatherer

	Calls          *prometheus.CounterVec   // service, method, code
	Latency        *prometheus.HistogramVec // service, method
	OpenStreams    prometheus.Gauge
	StreamMessages *prometheus.CounterVec // service, method

	Bodies    prometheus.Gauge
	Scenarios prometheus.Gauge
}

// NewControlCollector registers the control metrics with reg, or with the
// default registry when reg is nil.
func NewControlCollector(reg prometheus.Registerer) (*ControlCollector, error) {
	reg, gatherer := resolveRegistry(reg)
	c := &ControlCollector{gatherer: gatherer}

	var errs []error
	c.Calls = mustRegister(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orrery",
		Subsystem: "control",
		Name:      "calls_total",
		Help:      "Control RPCs handled, by method and status code.",
	}, []string{"service", "method", "code"}))
	c.Latency = mustRegister(reg, &errs, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orrery",
		Subsystem: "control",
		Name:      "call_duration_seconds",
		Help:      "Control RPC handling time.",
		Buckets:   rpcLatencyBuckets,
	}, []string{"service", "method"}))
	c.OpenStreams = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orrery",
		Subsystem: "control",
		Name:      "open_streams",
		Help:      "Event streams currently open.",
	}))
	c.StreamMessages = mustRegister(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orrery",
		Subsystem: "control",
		Name:      "stream_messages_total",
		Help:      "Messages sent on server streams.",
	}, []string{"service", "method"}))
	c.Bodies = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orrery",
		Name:      "catalog_bodies",
		Help:      "Bodies in the knowledge base.",
	}))
	c.Scenarios = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "orrery",
		Name:      "catalog_scenarios",
		Help:      "Scenario scripts loaded.",
	}))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// UnaryServerInterceptor counts and times unary calls.
func (c *ControlCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if c == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		c.record(info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor keeps OpenStreams current, counts sent messages
// and records one call when the stream ends.
func (c *ControlCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if c == nil {
			return handler(srv, ss)
		}
		service, method := SplitMethod(info.FullMethod)
		sent := c.StreamMessages.WithLabelValues(service, method)

		c.OpenStreams.Inc()
		defer c.OpenStreams.Dec()

		start := time.Now()
		err := handler(srv, &countingStream{ServerStream: ss, sent: sent})
		c.record(info.FullMethod, err, time.Since(start))
		return err
	}
}

type countingStream struct {
	grpc.ServerStream
	sent prometheus.Counter
}

func (s *countingStream) SendMsg(m any) error {
	err := s.ServerStream.SendMsg(m)
	if err == nil {
		s.sent.Inc()
	}
	return err
}

func (c *ControlCollector) record(fullMethod string, err error, d time.Duration) {
	service, method := SplitMethod(fullMethod)
	c.Calls.WithLabelValues(service, method, status.Code(err).String()).Inc()
	c.Latency.WithLabelValues(service, method).Observe(d.Seconds())
}

// SetCatalogCounts publishes the catalog size.
func (c *ControlCollector) SetCatalogCounts(bodies, scenarios int) {
	if c == nil {
		return
	}
	c.Bodies.Set(float64(bodies))
	c.Scenarios.Set(float64(scenarios))
}

// Handler serves the registry this collector was registered with.
func (c *ControlCollector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// SplitMethod turns "/pkg.Service/Method" into ("Service", "Method").
// Anything it cannot parse reports "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method = "unknown", "unknown"
	path := strings.TrimPrefix(fullMethod, "/")
	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		return service, method
	}
	if s := path[:slash]; s != "" {
		service = s[strings.LastIndexAny(s, "./")+1:]
		if service == "" {
			service = "unknown"
		}
	} else {
		return "unknown", "unknown"
	}
	if m := path[slash+1:]; m != "" {
		method = m
	}
	return service, method
}

func resolveRegistry(reg prometheus.Registerer) (prometheus.Registerer, prometheus.Gatherer) {
	if reg == nil {
		return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return reg, g
	}
	return reg, prometheus.DefaultGatherer
}

// mustRegister registers c, or returns the collector already registered
// under the same descriptor. Failures are appended to errs.
func mustRegister[C prometheus.Collector](reg prometheus.Registerer, errs *[]error, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		err = fmt.Errorf("collector already registered with a different type: %w", err)
	}
	*errs = append(*errs, err)
	return c
}
