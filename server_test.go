package rawrcache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/policy"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// serve starts a grpc.Server with the engine's interceptors and the standard
// health service on an in-memory listener and returns a connected client.
func serve(t *testing.T, eng *Engine[string], global *policy.RateLimitRule, r *policy.Resolver) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(eng.ServerOptions(global, r)...)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestServerOptions_GlobalLimit(t *testing.T) {
	eng, _ := newEngine(t)
	client := serve(t, eng, &policy.RateLimitRule{MaxRequests: 2, Window: time.Minute}, nil)

	for i := range 2 {
		if _, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
}

func TestServerOptions_GroupPolicy(t *testing.T) {
	eng, _ := newEngine(t)
	resolver := policy.NewResolver(
		policy.Group("health").
			Glob("/grpc.health.v1.Health/*").
			Policy(policy.Policy{RateLimit: &policy.RateLimitRule{MaxRequests: 1, Window: time.Minute}}),
	)
	client := serve(t, eng, nil, resolver)

	if _, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if st, ok := eng.Limiter().State("grpc:health"); !ok || st.Count != 2 {
		t.Fatalf("limiter state %+v ok=%v", st, ok)
	}
}
