package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	rpc "github.com/jeeves-cluster-organization/groundedrag/coreengine/grpc"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr, metricsAddr string
	var callTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve TurnService over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				c.settings.Server.Addr = addr
			}
			if cmd.Flags().Changed("metrics-addr") {
				c.settings.Server.MetricsAddr = metricsAddr
			}
			return serve(c, callTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address (overrides server.addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus listen address, empty disables it")
	cmd.Flags().DurationVar(&callTimeout, "call-timeout", 2*time.Minute, "deadline for calls that arrive without one")
	return cmd
}

func serve(c *cli, callTimeout time.Duration) error {
	logger := c.logger
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := newServeBus(logger)

	a, err := buildApp(ctx, c.settings, bus, logger)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.registerHealth(bus); err != nil {
		return err
	}

	var metrics *http.Server
	if c.settings.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: c.settings.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server_failed", "error", err.Error())
			}
		}()
		logger.Info("metrics_server_started", "address", c.settings.Server.MetricsAddr)
	}

	limiter, err := rpc.NewPeerLimiter(rpc.RateLimitConfig{
		RequestsPerMinute: c.settings.Server.RequestsPerMinute,
		BurstSize:         c.settings.Server.Burst,
	})
	if err != nil {
		return err
	}
	opts := append(rpc.ServerOptions(logger, callTimeout), rpc.RateLimitOptions(limiter)...)

	turns := rpc.NewTurnServer(a.orch, bus, logger)
	server := rpc.NewGracefulServer(turns, c.settings.Server.Addr, opts...)
	logger.Info("groundedrag_serving",
		"address", server.Address(),
		"vector_store", a.store.Backend(),
		"max_iterations", a.orch.DefaultMaxIterations,
		"tools", strings.Join(a.tools.List(), ","),
	)
	fmtReady(os.Stdout, server.Address())

	err = server.Start(ctx)

	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}
	logger.Info("groundedrag_stopped")
	return err
}

func fmtReady(out *os.File, addr string) {
	_, _ = out.WriteString(okColor("TurnService listening on "+addr) + "\nPress Ctrl+C to stop\n")
}
