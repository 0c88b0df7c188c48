package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"projectledger/config"
	"projectledger/core/events"
	"projectledger/core/state"
	"projectledger/observability/audit"
	"projectledger/observability/logging"
	telemetry "projectledger/observability/otel"
	"projectledger/services/ledgerd"
	"projectledger/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./ledgerd.toml", "path to ledgerd configuration")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup("ledgerd", cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "ledgerd",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        cfg.Telemetry.Headers,
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if sqlDB, err := auditDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	auditStore, err := audit.New(auditDB, logger)
	if err != nil {
		return err
	}
	broker := events.NewBroker(256)

	node, err := ledgerd.NewNode(ledgerd.NodeConfig{
		State:    state.NewManager(db),
		Terminal: cfg.Terminal,
		Emitter:  events.Fanout{auditStore, broker},
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := node.ApplySettings(ctx); err != nil {
		return fmt.Errorf("apply terminal settings: %w", err)
	}
	if cfg.BootstrapFile != "" {
		boot, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return err
		}
		if _, err := node.ApplyBootstrap(ctx, boot); err != nil {
			return err
		}
	}

	server := ledgerd.NewServer(node, auditStore, broker, ledgerd.ServerConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Auth: ledgerd.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			AdminScope: cfg.Auth.AdminScope,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
	}, logger)
	if cfg.Auth.Secret() == "" {
		logger.Warn("auth secret not configured; mutating routes are disabled", slog.String("env", cfg.Auth.HMACSecretEnv))
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("terminal", node.Terminal.Info().Address.Hex()),
			slog.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("ledgerd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
