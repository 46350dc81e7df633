package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/oteldemo/pkg/api"
	"github.com/Mindburn-Labs/oteldemo/pkg/config"
	"github.com/Mindburn-Labs/oteldemo/pkg/demoapi"
	"github.com/Mindburn-Labs/oteldemo/pkg/downstream"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
	"github.com/Mindburn-Labs/oteldemo/pkg/pipeline"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		port       string
		configFile string
	)
	cmd.StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	cmd.StringVar(&configFile, "config", "", "YAML file with cycle windows (overrides OTELDEMO_CONFIG)")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if port != "" {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signalContext()
	defer stop()

	if err := startServer(ctx, cfg, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// serve wires telemetry, the backing store, the pipeline and the demo
// routes, then serves until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	provider, err := observability.New(ctx, cfg.Observability())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	logCfg := cfg.Logging()
	logCfg.Writer = logOut
	logger := observability.NewLogger(logCfg, provider.LoggerProvider())
	slog.SetDefault(logger)

	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}

	db, dialect, err := downstream.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := downstream.Provision(ctx, db, dialect); err != nil {
		return err
	}

	counter, err := observability.NewCounterEmitter(provider.Meter())
	if err != nil {
		return fmt.Errorf("counter: %w", err)
	}
	caller := downstream.NewCaller(cfg.TargetURL, downstream.WithTracerProvider(provider.TracerProvider()))
	pl := pipeline.New(counter, caller, downstream.NewNameStore(db), provider.Tracer(),
		pipeline.WithSchedule(schedule),
		pipeline.WithLogger(logger.With("component", "pipeline")),
	)

	cache, closeCache, err := openCache(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeCache()

	app, err := demoapi.New(provider.Meter(), provider.Tracer(), cache,
		demoapi.WithCacheTTL(cfg.CacheTTL.Duration()))
	if err != nil {
		return fmt.Errorf("demo routes: %w", err)
	}

	srv := api.NewServer(ctx, api.ServerConfig{
		Addr:           cfg.Addr(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TracerProvider: provider.TracerProvider(),
		MeterProvider:  provider.MeterProvider(),
		Logger:         logger.With("component", "api"),
	}, api.Routes{
		Demo:         api.NewHandler(api.RouteDemo, pl, provider, logger),
		HelloWorld:   api.NewTextHandler(api.RouteHelloWorld, app.HelloWorld, provider, logger),
		CachedResult: api.NewTextHandler(api.RouteCachedResult, app.CachedResult, provider, logger),
		Metrics:      provider.MetricsHandler(),
	})

	logger.InfoContext(ctx, "oteldemo ready",
		"addr", cfg.Addr(),
		"dialect", string(dialect),
		"target", cfg.TargetURL,
		"windows", fmt.Sprint(schedule.Windows()),
	)
	return srv.ListenAndServe(ctx)
}

func openCache(ctx context.Context, redisURL string) (demoapi.Cache, func(), error) {
	if redisURL == "" {
		return demoapi.NewMemoryCache(demoapi.DefaultCacheCapacity), func() {}, nil
	}
	rc, err := demoapi.NewRedisCache(redisURL)
	if err != nil {
		return nil, nil, err
	}
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}
