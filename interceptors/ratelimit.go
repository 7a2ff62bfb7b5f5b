package interceptors

import (
	"context"

	"github.com/Keksclan/rawrcache/policy"
	"github.com/Keksclan/rawrcache/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errRateLimited is allocated once to avoid per-request allocations on the hot path.
var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

const keyPrefix = "grpc:"

// rateLimitState holds the shared limiter, the rule applied to unmatched
// methods and an optional policy resolver.
type rateLimitState struct {
	limiter  *ratelimit.Limiter
	global   *policy.RateLimitRule
	resolver *policy.Resolver
	callers  CallerResolver
}

// RateLimitOption configures the rate-limit interceptors.
type RateLimitOption func(*rateLimitState)

// WithCallerResolver sets how per-caller keys identify the client. By
// default the peer address is used and forwarding headers are ignored.
func WithCallerResolver(cr CallerResolver) RateLimitOption {
	return func(s *rateLimitState) { s.callers = cr }
}

func newRateLimitState(l *ratelimit.Limiter, global *policy.RateLimitRule, r *policy.Resolver, opts []RateLimitOption) *rateLimitState {
	st := &rateLimitState{limiter: l, global: global, resolver: r}
	for _, o := range opts {
		o(st)
	}
	return st
}

// ruleFor returns the limiter rule for fullMethod. A method matched to a
// group with a RateLimit policy is counted under the group name; everything
// else falls back to the global rule. ok is false when no rule applies.
func (s *rateLimitState) ruleFor(ctx context.Context, fullMethod string) (ratelimit.Rule, bool) {
	name, rl, perCaller := "global", s.global, false
	if group, pol, ok := s.resolver.Resolve(fullMethod); ok && pol != nil && pol.RateLimit != nil {
		name, rl, perCaller = group, pol.RateLimit, pol.PerCaller
	}
	if rl == nil {
		return ratelimit.Rule{}, false
	}

	key := keyPrefix + name
	if perCaller {
		if addr, ok := s.callers.Resolve(ctx); ok {
			key += ":" + addr.String()
		}
	}
	return ratelimit.Rule{
		Key:           key,
		MaxRequests:   rl.MaxRequests,
		Window:        rl.Window,
		BlockDuration: rl.BlockDuration,
	}, true
}

func (s *rateLimitState) check(ctx context.Context, fullMethod string) error {
	rule, ok := s.ruleFor(ctx, fullMethod)
	if !ok {
		return nil
	}
	res, err := s.limiter.Check(rule)
	if err != nil {
		return status.Errorf(codes.Internal, "rate limit rule %q: %v", rule.Key, err)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("rawrcache.ratelimit.key", rule.Key),
		attribute.Bool("rawrcache.ratelimit.allowed", res.Allowed),
		attribute.Int("rawrcache.ratelimit.remaining", res.Remaining),
	)
	if !res.Allowed {
		if res.Blocked {
			span.AddEvent("rate limit block active", trace.WithAttributes(
				attribute.String("rawrcache.ratelimit.blocked_until", res.BlockedUntil.String()),
			))
		}
		return errRateLimited
	}
	return nil
}

// RateLimitUnary returns a unary server interceptor that rejects requests
// once the applicable fixed-window limit is exhausted. Methods matched by r
// to a group with a RateLimit policy use that rule; all other methods use
// global. A nil global leaves unmatched methods unlimited.
func RateLimitUnary(l *ratelimit.Limiter, global *policy.RateLimitRule, r *policy.Resolver, opts ...RateLimitOption) grpc.UnaryServerInterceptor {
	st := newRateLimitState(l, global, r, opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := st.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// RateLimitStream returns a stream server interceptor with the same
// semantics as RateLimitUnary. The limit is checked once per stream.
func RateLimitStream(l *ratelimit.Limiter, global *policy.RateLimitRule, r *policy.Resolver, opts ...RateLimitOption) grpc.StreamServerInterceptor {
	st := newRateLimitState(l, global, r, opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := st.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
