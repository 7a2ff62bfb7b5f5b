package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tracerName = "github.com/Keksclan/rawrcache/interceptors"

// serverTracer starts one server span per RPC. The rate-limit interceptors
// annotate the span found in the context, so tracing must run before them.
type serverTracer struct {
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

func newServerTracer(tp trace.TracerProvider) serverTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return serverTracer{tracer: tp.Tracer(tracerName), prop: otel.GetTextMapPropagator()}
}

func (st serverTracer) start(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	ctx = st.prop.Extract(ctx, metadataCarrier(md))

	service, method, _ := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	return st.tracer.Start(ctx, fullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		),
	)
}

func finish(span trace.Span, err error) {
	s, _ := status.FromError(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", s.Code().String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, s.Message())
	}
	span.End()
}

// TracingUnary returns a unary server interceptor that wraps each call in a
// server span, continuing any trace context found in the request metadata.
// A nil tp uses the global provider.
func TracingUnary(tp trace.TracerProvider) grpc.UnaryServerInterceptor {
	st := newServerTracer(tp)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		ctx, span := st.start(ctx, info.FullMethod)
		defer func() { finish(span, err) }()
		return handler(ctx, req)
	}
}

// TracingStream is the stream counterpart of TracingUnary.
func TracingStream(tp trace.TracerProvider) grpc.StreamServerInterceptor {
	st := newServerTracer(tp)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx, span := st.start(ss.Context(), info.FullMethod)
		defer func() { finish(span, err) }()
		return handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
	}
}

// metadataCarrier adapts incoming gRPC metadata to a propagation carrier.
type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	if vals := metadata.MD(mc).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (mc metadataCarrier) Set(key, value string) { metadata.MD(mc).Set(key, value) }

func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc))
	for k := range mc {
		keys = append(keys, k)
	}
	return keys
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }
