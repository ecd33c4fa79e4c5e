package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencechat/internal/chat"
	"github.com/Tyrowin/presencechat/internal/logging"
	"github.com/Tyrowin/presencechat/internal/metrics"
	"github.com/Tyrowin/presencechat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the components together and blocks until SIGINT, SIGTERM or a
// listener failure. Deferred cleanup always runs before main exits.
func run() error {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("metrics error: %w", err)
	}

	opts := append(cfg.GatewayOptions(), chat.WithMetrics(gatewayMetrics))
	gateway := chat.NewGateway(logger.Named("gateway"), opts...)
	go gateway.Run()

	srv := server.NewServer(cfg, gateway, registry, logger)
	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	logger.Info("Starting PresenceChat server",
		zap.String("addr", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.String("claim_rejection", cfg.ClaimRejection))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case serveErr = <-errChan:
		logger.Error("Server stopped unexpectedly", zap.Error(serveErr))
	}

	shutdownErr := errors.Join(
		server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger),
		srv.Shutdown(cfg.ShutdownTimeout),
	)
	if serveErr != nil {
		return serveErr
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown error: %w", shutdownErr)
	}

	logger.Info("Server stopped cleanly")
	return nil
}
