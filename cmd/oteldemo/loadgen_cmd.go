package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/oteldemo/pkg/loadgen"
	"github.com/Mindburn-Labs/oteldemo/pkg/observability"
)

// runLoadgenCmd implements `oteldemo loadgen`.
//
// Exit codes:
//
//	0 = run completed
//	1 = telemetry setup failed
//	2 = usage or configuration error
func runLoadgenCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig("")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	lc := loadgen.DefaultConfig()
	lc.URL = cfg.DemoServiceURL
	lc.Workers = cfg.WorkerCount

	cmd := pflag.NewFlagSet("loadgen", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	var duration time.Duration
	cmd.StringVar(&lc.URL, "url", lc.URL, "Endpoint to hit (DEMO_SERVICE_URL)")
	cmd.IntVarP(&lc.Workers, "workers", "w", lc.Workers, "Concurrent workers (WORKER_COUNT)")
	cmd.Float64Var(&lc.RPS, "rps", 0, "Combined request rate cap, 0 for none")
	cmd.IntVarP(&lc.Requests, "requests", "n", 0, "Stop after this many requests, 0 for no limit")
	cmd.DurationVar(&lc.MaxPause, "max-pause", lc.MaxPause, "Upper bound of the random pause after each request")
	cmd.DurationVarP(&duration, "duration", "d", 0, "Stop after this long, 0 for no limit")

	if err := cmd.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := lc.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx, stop := signalContext()
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	oc := cfg.Observability()
	oc.ServiceName = cfg.ServiceName + "-loadgen"
	oc.Prometheus = false
	provider, err := observability.New(ctx, oc)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	logCfg := cfg.Logging()
	logCfg.Writer = stderr
	logger := observability.NewLogger(logCfg, provider.LoggerProvider())
	slog.SetDefault(logger)

	gen, err := loadgen.New(lc,
		loadgen.WithTracerProvider(provider.TracerProvider()),
		loadgen.WithLogger(logger.With("component", "loadgen")),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	stats := gen.Run(ctx)
	_, _ = fmt.Fprintf(stdout, "sent=%d failed=%d\n", stats.Sent, stats.Failed)
	return 0
}
