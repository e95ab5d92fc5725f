package control

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/observability"
)

const tracerName = "github.com/signalsfoundry/orrery/internal/control"

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// TracingUnaryServerInterceptor renames the span opened by the stats
// handler to "Control/<Service>/<Method>" and tags it with the request id
// and status. Without a stats handler it opens the span itself.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, finish := rpcSpan(ctx, info.FullMethod)
		resp, err := handler(ctx, req)
		finish(err)
		return resp, err
	}
}

// TracingStreamServerInterceptor does the same for server streams.
func TracingStreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, finish := rpcSpan(ss.Context(), info.FullMethod)
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		finish(err)
		return err
	}
}

func rpcSpan(ctx context.Context, fullMethod string) (context.Context, func(error)) {
	service, method := observability.SplitMethod(fullMethod)
	name := "Control/" + service + "/" + method

	span := trace.SpanFromContext(ctx)
	owned := !span.SpanContext().IsValid()
	if owned {
		ctx, span = tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	} else {
		span.SetName(name)
	}
	span.SetAttributes(
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		span.SetAttributes(attribute.String("request_id", id))
	}

	return ctx, func(err error) {
		code := status.Code(err)
		span.SetAttributes(attribute.String("rpc.grpc.status", code.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, code.String())
		}
		if owned {
			span.End()
		}
	}
}

// startSpan opens a child span for work inside a handler.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
