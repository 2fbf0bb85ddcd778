package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wspush/ws"
)

type options struct {
	addr        string
	path        string
	metricsPath string
	logLevel    string
	rate        float64
	burst       int
	tick        time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "wspush-echo",
		Short:        "Serve a WebSocket push route that echoes every message",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "HTTP listen address")
	flags.StringVar(&opts.path, "path", "/push", "WebSocket route path")
	flags.StringVar(&opts.metricsPath, "metrics-path", "/metrics", "Prometheus metrics path, empty to disable")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.Float64Var(&opts.rate, "rate", 100, "Inbound messages per second per connection, 0 disables rate limiting")
	flags.IntVar(&opts.burst, "burst", 200, "Inbound message burst per connection")
	flags.DurationVar(&opts.tick, "tick", 0, "Push the server time to every client at this interval, 0 disables")

	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func run(ctx context.Context, opts *options) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, route, err := newServer(opts, logger, registry)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.addr), zap.String("path", opts.path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return shutdown(stopCtx, server, route)
	})

	return g.Wait()
}

// newServer builds the HTTP server with the push route and, optionally, the
// metrics endpoint mounted on one router.
func newServer(opts *options, logger *zap.Logger, registry *prometheus.Registry) (*http.Server, *ws.Route, error) {
	rateLimitConfig := ws.NoRateLimit()
	if opts.rate > 0 {
		rateLimitConfig = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(opts.rate),
			Burst:             opts.burst,
			Enabled:           true,
		}
	}

	cfg := ws.NewConfig(opts.path, echoFactory{tick: opts.tick, logger: logger}, ws.AllOrigins())
	cfg.RateLimitConfig = rateLimitConfig
	cfg.Logger = logger
	cfg.Registerer = registry

	route, err := ws.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	router := mux.NewRouter()
	route.Register(router)
	if opts.metricsPath != "" {
		router.Handle(opts.metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, route, nil
}

// shutdown stops the HTTP server, then closes the WebSocket connections it
// handed off and waits for their sessions.
func shutdown(ctx context.Context, server *http.Server, route *ws.Route) error {
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown server")
	}
	// Hijacked connections are not tracked by the server.
	if err := route.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown push route")
	}
	return nil
}
