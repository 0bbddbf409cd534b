// Command stablepay serves the Solana USDC/USDT storefront payment routes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vitwit/stablepay"
	"github.com/vitwit/stablepay/config"
	"github.com/vitwit/stablepay/logger"
	"github.com/vitwit/stablepay/metrics"
	"github.com/vitwit/stablepay/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "stablepay:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	path, err := config.FilenameFromArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	log := logger.NewZapLogger(cfg.LogLevel)
	if z, ok := log.(*logger.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}

	providerOpts := []stablepay.Option{stablepay.WithLogger(log)}
	var handlerOpts []server.Option
	if cfg.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		providerOpts = append(providerOpts, stablepay.WithMetrics(rec))
		handlerOpts = append(handlerOpts, server.WithMetricsGatherer(reg))
	}

	provider, err := stablepay.New(&cfg.ProviderConfig, providerOpts...)
	if err != nil {
		return err
	}
	defer provider.Close()

	handlerOpts = append(handlerOpts, server.WithLogger(log), server.WithOperatorKey(cfg.HTTP.OperatorKey))
	if cfg.HTTP.OperatorKey == "" {
		log.Info("session creation over HTTP disabled; no operator key configured", nil)
	}
	app := server.New(cfg.HTTP, server.NewHandler(provider, server.NewMemoryCarts(), handlerOpts...), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- app.Run()
	}()

	log.Info("stablepay started", map[string]any{
		"version":  stablepay.Version,
		"network":  provider.Network().String(),
		"testnet":  provider.Network().IsTestnet(),
		"provider": provider.Identifier(),
	})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}
