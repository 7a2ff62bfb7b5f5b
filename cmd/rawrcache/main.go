// Command rawrcache runs a standalone cache engine: it serves Prometheus
// metrics over HTTP, a rate-limited gRPC health endpoint, and optionally
// publishes lifecycle events to Redis and traces to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Keksclan/rawrcache"
	"github.com/Keksclan/rawrcache/cache"
	"github.com/Keksclan/rawrcache/events"
	"github.com/Keksclan/rawrcache/interceptors"
	"github.com/Keksclan/rawrcache/policy"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	app := cli.App{
		Name:  "rawrcache",
		Usage: "in-process cache and rate-limit engine",
		Flags: engineFlags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the engine with metrics and gRPC health endpoints",
				Action: runServe,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "metrics-addr",
						Usage:   "listen address for the Prometheus /metrics endpoint",
						Value:   ":9090",
						EnvVars: []string{"RAWRCACHE_METRICS_ADDR"},
					},
					&cli.StringFlag{
						Name:    "grpc-addr",
						Usage:   "listen address for the gRPC health service (empty disables)",
						Value:   ":50051",
						EnvVars: []string{"RAWRCACHE_GRPC_ADDR"},
					},
					&cli.IntFlag{
						Name:    "grpc-rate-limit",
						Usage:   "requests per window allowed per gRPC caller (0 disables)",
						Value:   100,
						EnvVars: []string{"RAWRCACHE_GRPC_RATE_LIMIT"},
					},
					&cli.DurationFlag{
						Name:    "grpc-rate-window",
						Usage:   "window of the gRPC rate limit",
						Value:   time.Second,
						EnvVars: []string{"RAWRCACHE_GRPC_RATE_WINDOW"},
					},
					&cli.StringSliceFlag{
						Name:    "trusted-proxies",
						Usage:   "CIDRs whose forwarding headers identify the real gRPC caller",
						EnvVars: []string{"RAWRCACHE_TRUSTED_PROXIES"},
					},
					&cli.StringFlag{
						Name:    "redis-addr",
						Usage:   "publish lifecycle events to this Redis server (empty disables)",
						EnvVars: []string{"RAWRCACHE_REDIS_ADDR"},
					},
					&cli.StringFlag{
						Name:    "redis-channel",
						Usage:   "Redis pub/sub channel for lifecycle events",
						Value:   "rawrcache:events",
						EnvVars: []string{"RAWRCACHE_REDIS_CHANNEL"},
					},
					&cli.BoolFlag{
						Name:    "trace",
						Usage:   "print GetOrSet and warmup spans to stdout",
						EnvVars: []string{"RAWRCACHE_TRACE"},
					},
				},
			},
			{
				Name:   "config",
				Usage:  "print the effective cache configuration as JSON",
				Action: runConfig,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func engineFlags() []cli.Flag {
	def := cache.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"RAWRCACHE_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.DurationFlag{
			Name:    "default-ttl",
			Usage:   "TTL applied when a set does not specify one",
			Value:   def.DefaultTTL,
			EnvVars: []string{"RAWRCACHE_DEFAULT_TTL"},
		},
		&cli.Int64Flag{
			Name:    "max-memory-bytes",
			Usage:   "memory budget for the serialized size of all entries (0 is unlimited)",
			Value:   def.MaxMemoryBytes,
			EnvVars: []string{"RAWRCACHE_MAX_MEMORY_BYTES"},
		},
		&cli.IntFlag{
			Name:    "max-entries",
			Usage:   "maximum number of entries (0 is unlimited)",
			Value:   def.MaxEntries,
			EnvVars: []string{"RAWRCACHE_MAX_ENTRIES"},
		},
		&cli.StringFlag{
			Name:    "strategy",
			Usage:   "eviction strategy (LRU, LFU, FIFO, TTL)",
			Value:   string(def.Strategy),
			EnvVars: []string{"RAWRCACHE_STRATEGY"},
		},
		&cli.BoolFlag{
			Name:    "stats",
			Usage:   "collect hit, miss and latency statistics",
			Value:   def.EnableStats,
			EnvVars: []string{"RAWRCACHE_STATS"},
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "interval of the expiration sweeper",
			Value:   def.SweepInterval,
			EnvVars: []string{"RAWRCACHE_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "stats-interval",
			Usage:   "interval of the statistics refresh (0 disables)",
			Value:   def.StatsInterval,
			EnvVars: []string{"RAWRCACHE_STATS_INTERVAL"},
		},
	}
}

func configFromFlags(cctx *cli.Context) cache.Config {
	cfg := cache.DefaultConfig()
	cfg.DefaultTTL = cctx.Duration("default-ttl")
	cfg.MaxMemoryBytes = cctx.Int64("max-memory-bytes")
	cfg.MaxEntries = cctx.Int("max-entries")
	cfg.Strategy = cache.Strategy(cctx.String("strategy"))
	cfg.EnableStats = cctx.Bool("stats")
	cfg.SweepInterval = cctx.Duration("sweep-interval")
	cfg.StatsInterval = cctx.Duration("stats-interval")
	return cfg
}

func configureLogging(cctx *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cctx.String("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

func runConfig(cctx *cli.Context) error {
	cfg := configFromFlags(cctx)
	if err := cfg.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func runServe(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := configureLogging(cctx)
	if err != nil {
		return err
	}

	listeners := []events.Listener{events.Log(logger, slog.LevelDebug)}
	if addr := cctx.String("redis-addr"); addr != "" {
		pub := events.NewRedisPublisher(events.RedisConfig{
			Addr:    addr,
			Channel: cctx.String("redis-channel"),
			Logger:  logger,
		})
		defer func() { _ = pub.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := pub.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, events will be dropped until it recovers", "addr", addr, "err", err)
		}
		cancel()
		listeners = append(listeners, pub)
	}

	var tp trace.TracerProvider
	if cctx.Bool("trace") {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout exporter: %w", err)
		}
		sdkTP := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = sdkTP.Shutdown(context.Background()) }()
		tp = sdkTP
	}

	eng, err := rawrcache.New[json.RawMessage](
		rawrcache.WithConfig(configFromFlags(cctx)),
		rawrcache.WithListener(events.Multi(listeners...)),
		rawrcache.WithLogger(logger),
		rawrcache.WithTracerProvider(tp),
	)
	if err != nil {
		return err
	}
	eng.Start()
	defer eng.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.MetricsHandler())
	httpSrv := &http.Server{
		Addr:              cctx.String("metrics-addr"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("serving metrics", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if addr := cctx.String("grpc-addr"); addr != "" {
		var global *policy.RateLimitRule
		if n := cctx.Int("grpc-rate-limit"); n > 0 {
			global = &policy.RateLimitRule{MaxRequests: n, Window: cctx.Duration("grpc-rate-window")}
		}
		resolver := policy.NewResolver(
			policy.Group("health").
				Glob("/grpc.health.v1.Health/*").
				Policy(policy.Policy{RateLimit: global, PerCaller: true}),
		)
		callers, err := interceptors.NewCallerResolver(cctx.StringSlice("trusted-proxies"))
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer(eng.ServerOptions(global, resolver, interceptors.WithCallerResolver(callers))...)
		healthpb.RegisterHealthServer(grpcSrv, health.NewServer())

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("serving grpc", "addr", lis.Addr().String())
			if err := grpcSrv.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return err
}
