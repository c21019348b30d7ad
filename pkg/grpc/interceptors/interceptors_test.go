package interceptors

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/goclaw/memoria/pkg/logger"
)

var okHandler = func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

func info(method string) *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: method}
}

type validatableReq struct {
	Name string
}

func (v validatableReq) Validate() error {
	if v.Name == "" {
		return FieldErrors{{Field: "name", Message: "required"}}
	}
	return nil
}

type businessRuleReq struct{}

func (b businessRuleReq) Validate() error {
	return BusinessRuleError{Message: "rule violated"}
}

type taggedReq struct {
	EntityID string `validate:"required,max=8"`
}

func TestRecoveryUnaryInterceptor_Panic(t *testing.T) {
	interceptor := RecoveryUnaryInterceptor(logger.Nop())
	_, err := interceptor(context.Background(), nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func TestRequestIDUnaryInterceptor_Generates(t *testing.T) {
	interceptor := RequestIDUnaryInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.MD{})
	_, err := interceptor(ctx, nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		id, ok := RequestIDFromContext(ctx)
		if !ok || id == "" {
			t.Fatal("request id not set in context")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDUnaryInterceptor_Propagates(t *testing.T) {
	tests := []struct {
		incoming string
		kept     bool
	}{
		{"req-123", true},
		{"has space", false},
		{strings.Repeat("a", 129), false},
		{"café", false},
	}
	for _, tt := range tests {
		incoming, kept := tt.incoming, tt.kept
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDKey, incoming))
		var got string
		_, _ = RequestIDUnaryInterceptor()(ctx, nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
			got, _ = RequestIDFromContext(ctx)
			return nil, nil
		})
		if (got == incoming) != kept {
			t.Errorf("incoming %q: got %q, kept=%v", incoming, got, kept)
		}
	}
}

func TestRateLimitUnaryInterceptor_Exceeded(t *testing.T) {
	interceptor := RateLimitUnaryInterceptor(NewRateLimiter(1, 1))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5000}})

	if _, err := interceptor(ctx, nil, info("/svc/m"), okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := interceptor(ctx, nil, info("/svc/m"), okHandler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", status.Code(err))
	}

	// Another client has its own bucket.
	other := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5000}})
	if _, err := interceptor(other, nil, info("/svc/m"), okHandler); err != nil {
		t.Fatalf("second client limited: %v", err)
	}
	// Health checks are never limited.
	if _, err := interceptor(ctx, nil, info("/grpc.health.v1.Health/Check"), okHandler); err != nil {
		t.Fatalf("health check limited: %v", err)
	}
}

func TestClientID(t *testing.T) {
	if got := clientID(context.Background()); got != "anonymous" {
		t.Errorf("expected anonymous, got %q", got)
	}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.4"), Port: 41000}})
	if got := clientID(ctx); got != "192.168.1.4" {
		t.Errorf("expected the host, got %q", got)
	}
}

type levelRecorder struct {
	logger.Logger
	mu     sync.Mutex
	levels []string
}

func (r *levelRecorder) record(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *levelRecorder) InfoContext(ctx context.Context, msg string, args ...any)  { r.record("info") }
func (r *levelRecorder) WarnContext(ctx context.Context, msg string, args ...any)  { r.record("warn") }
func (r *levelRecorder) ErrorContext(ctx context.Context, msg string, args ...any) { r.record("error") }

func TestLoggingUnaryInterceptor_Levels(t *testing.T) {
	rec := &levelRecorder{Logger: logger.Nop()}
	interceptor := LoggingUnaryInterceptor(rec)

	_, _ = interceptor(context.Background(), nil, info("/svc/m"), okHandler)
	_, _ = interceptor(context.Background(), nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	_, _ = interceptor(context.Background(), nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Internal, "broken")
	})

	want := []string{"info", "warn", "error"}
	if strings.Join(rec.levels, ",") != strings.Join(want, ",") {
		t.Errorf("got levels %v, want %v", rec.levels, want)
	}
}

func TestValidationUnaryInterceptor_InvalidArgument(t *testing.T) {
	interceptor := ValidationUnaryInterceptor()
	called := false
	_, err := interceptor(context.Background(), validatableReq{}, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return nil, nil
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", status.Code(err))
	}
	if called {
		t.Fatal("handler should not be called on validation error")
	}
}

func TestValidationUnaryInterceptor_BusinessRule(t *testing.T) {
	_, err := ValidationUnaryInterceptor()(context.Background(), businessRuleReq{}, info("/svc/m"), okHandler)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", status.Code(err))
	}
}

func TestValidationUnaryInterceptor_StructTags(t *testing.T) {
	interceptor := ValidationUnaryInterceptor()

	_, err := interceptor(context.Background(), &taggedReq{EntityID: "far-too-long-id"}, info("/svc/m"), okHandler)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", status.Code(err))
	}
	if !strings.Contains(status.Convert(err).Message(), "EntityID") {
		t.Errorf("expected the field in the message, got %q", status.Convert(err).Message())
	}

	if _, err := interceptor(context.Background(), &taggedReq{EntityID: "ana"}, info("/svc/m"), okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	codes    []string
	inflight int
}

func (f *fakeRecorder) RecordGRPCRequest(ctx context.Context, method, code string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func (f *fakeRecorder) IncGRPCInflight(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight++
}

func (f *fakeRecorder) DecGRPCInflight(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
}

func TestMetricsUnaryInterceptor_Records(t *testing.T) {
	rec := &fakeRecorder{}
	interceptor := MetricsUnaryInterceptor(rec)

	_, _ = interceptor(context.Background(), nil, info("/svc/m"), okHandler)
	_, _ = interceptor(context.Background(), nil, info("/svc/m"), func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "bad")
	})

	if strings.Join(rec.codes, ",") != "OK,InvalidArgument" {
		t.Errorf("unexpected codes %v", rec.codes)
	}
	if rec.inflight != 0 {
		t.Errorf("expected nothing in flight, got %d", rec.inflight)
	}
}

func TestTracingUnaryInterceptor_ContinuesTrace(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevProp)
	})

	exporter := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(trace.ContextWithSpanContext(context.Background(), parent), carrier)
	incoming := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string(carrier)))

	_, err := TracingUnaryInterceptor()(incoming, nil, info("/memoria.v1.MemoryService/Search"), func(ctx context.Context, req interface{}) (interface{}, error) {
		if trace.SpanContextFromContext(ctx).TraceID() != parent.TraceID() {
			return nil, errors.New("trace not continued")
		}
		return nil, status.Error(codes.NotFound, "nothing")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "/memoria.v1.MemoryService/Search" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	// A caller mistake is not a server error.
	if spans[0].Status.Code == otelcodes.Error {
		t.Error("NotFound should not mark the span as failed")
	}
}

func TestSplitMethod(t *testing.T) {
	svc, m := splitMethod("/memoria.v1.MemoryService/Remember")
	if svc != "memoria.v1.MemoryService" || m != "Remember" {
		t.Errorf("got %q %q", svc, m)
	}
	if svc, m := splitMethod(""); svc != "unknown" || m != "unknown" {
		t.Errorf("got %q %q", svc, m)
	}
}

func TestDefaultChain(t *testing.T) {
	opts := DefaultChain(logger.Nop(), &fakeRecorder{}, 10, 5).Build()
	if len(opts) != 2 {
		t.Errorf("expected unary and stream chains, got %d options", len(opts))
	}
	if got := len(NewChainBuilder().Build()); got != 0 {
		t.Errorf("expected no options from an empty chain, got %d", got)
	}
}
