package control

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orrery/internal/logging"
)

func TestRequestIDInterceptorUsesIncomingMetadata(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("GetState")}

	var gotID string
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotID != "req-42" {
		t.Fatalf("request id = %q, want req-42", gotID)
	}
}

func TestRequestIDInterceptorGeneratesID(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(logging.Noop())
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("GetState")}

	var gotID string
	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if gotID == "" {
		t.Fatalf("no request id generated")
	}
}

type ctxServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxServerStream) Context() context.Context { return s.ctx }

func TestRequestIDStreamInterceptorWrapsContext(t *testing.T) {
	interceptor := RequestIDStreamServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "stream-7"))
	info := &grpc.StreamServerInfo{FullMethod: fullMethod("StreamEvents"), IsServerStream: true}

	var gotID string
	err := interceptor(nil, ctxServerStream{ctx: ctx}, info, func(srv interface{}, ss grpc.ServerStream) error {
		gotID = logging.RequestIDFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotID != "stream-7" {
		t.Fatalf("request id = %q, want stream-7", gotID)
	}
}

func TestTracingInterceptorStartsNamedSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	interceptor := TracingUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod("GetState")}
	ctx := logging.ContextWithRequestID(context.Background(), "trace-1")
	if _, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "Control/ControlService/GetState" {
		t.Fatalf("span name = %q", spans[0].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "request_id" && kv.Value.AsString() == "trace-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("span missing request_id attribute: %v", spans[0].Attributes())
	}
}

func TestTracingStreamInterceptorRecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	interceptor := TracingStreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: fullMethod("StreamEvents"), IsServerStream: true}
	err := interceptor(nil, ctxServerStream{ctx: context.Background()}, info, func(_ any, ss grpc.ServerStream) error {
		if !trace.SpanFromContext(ss.Context()).SpanContext().IsValid() {
			t.Errorf("handler context carries no span")
		}
		return status.Error(codes.Canceled, "client left")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("err = %v, want Canceled", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "Control/ControlService/StreamEvents" {
		t.Fatalf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != otelcodes.Error {
		t.Fatalf("span status = %v, want Error", spans[0].Status())
	}
}
