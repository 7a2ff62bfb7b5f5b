package rawrcache

import (
	"github.com/Keksclan/rawrcache/interceptors"
	"github.com/Keksclan/rawrcache/policy"
	"google.golang.org/grpc"
)

// ServerOptions returns grpc.ServerOption values that put panic recovery, a
// server span and the engine's rate limiter in front of every handler of a
// grpc.Server. Recovery runs first so that a panic in any later interceptor
// is caught; the limiter records its decision on the server span.
//
//	srv := grpc.NewServer(eng.ServerOptions(
//		&policy.RateLimitRule{MaxRequests: 500, Window: time.Second},
//		policy.NewResolver(policy.Group("login").Exact("/auth.Auth/Login").
//			Policy(policy.Policy{RateLimit: &policy.RateLimitRule{MaxRequests: 5, Window: time.Minute}, PerCaller: true})),
//	)...)
func (e *Engine[V]) ServerOptions(global *policy.RateLimitRule, r *policy.Resolver, opts ...interceptors.RateLimitOption) []grpc.ServerOption {
	logger := e.log
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(logger),
			interceptors.TracingUnary(e.tp),
			interceptors.RateLimitUnary(e.limiter, global, r, opts...),
		),
		grpc.ChainStreamInterceptor(
			interceptors.RecoveryStream(logger),
			interceptors.TracingStream(e.tp),
			interceptors.RateLimitStream(e.limiter, global, r, opts...),
		),
	}
}
