// Command airmesh-server runs the air-quality backend.
//
// The server accepts device readings over HTTP and MQTT, stores them in
// Postgres, and pushes every stored change to the WebSocket observers
// subscribed to the reporting device. Change detection rides on Postgres
// LISTEN/NOTIFY: a trigger fires on every insert, so updates reach
// observers no matter which path wrote the reading.
//
// Usage:
//
//	airmesh-server [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-http-addr string   HTTP listen address (overrides config)
//	-log-level string   Log level: debug, info, warn, error (overrides config)
//
// Examples:
//
//	# Start with defaults against a local Postgres
//	airmesh-server
//
//	# Start with a config file and debug logging
//	airmesh-server -config /etc/airmesh/server.yaml -log-level debug
//
// Environment variables prefixed AIRMESH_ override the config file,
// e.g. AIRMESH_POSTGRES_URL, AIRMESH_MQTT_BROKER_URL.
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
	"syscall"
	"time"

	"github.com/airmesh/airmesh-go/pkg/config"
	"github.com/airmesh/airmesh-go/pkg/discovery"
	"github.com/airmesh/airmesh-go/pkg/dispatch"
	"github.com/airmesh/airmesh-go/pkg/httpapi"
	"github.com/airmesh/airmesh-go/pkg/ingest"
	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/notifier"
	"github.com/airmesh/airmesh-go/pkg/registry"
	"github.com/airmesh/airmesh-go/pkg/session"
	"github.com/airmesh/airmesh-go/pkg/store"
	"github.com/airmesh/airmesh-go/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(slogger)
	logger := log.NewSlogAdapter(slogger)

	slogger.Info("airmesh-server starting", "version", version.String())

	if err := run(cfg, logger, slogger); err != nil {
		slogger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger log.Logger, slogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, pool, err := store.Open(ctx, cfg.PostgresURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer pool.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	reg := registry.New(logger)
	sessions := session.NewManager(reg, st, session.Config{
		SnapshotLimit: cfg.SnapshotLimit,
		QueueSize:     cfg.SendQueueSize,
		Logger:        logger,
	})

	adapter := notifier.New(notifier.NewPGConnector(cfg.PostgresURL, cfg.NotifyChannel), notifier.Config{
		Logger: logger,
	})
	dispatcher := dispatch.New(st, reg, logger)

	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		adapter.Run(ctx)
	}()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx, adapter.Events())
	}()

	if cfg.MQTT.BrokerURL != "" {
		bridge := ingest.New(st, logger)
		if err := bridge.Start(cfg.MQTT); err != nil {
			return fmt.Errorf("start MQTT ingest: %w", err)
		}
		defer bridge.Stop()
		slogger.Info("MQTT ingest started", "broker", cfg.MQTT.BrokerURL, "topic", cfg.MQTT.Topic)
	}

	if cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser(discovery.Config{
			Instance: cfg.Discovery.Instance,
			HTTPAddr: cfg.HTTPAddr,
		})
		if err := adv.Start(); err != nil {
			// Discovery is a convenience; the service works without it.
			slogger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
			slogger.Info("mDNS advertising started", "instance", cfg.Discovery.Instance)
		}
	}

	api := httpapi.NewServer(st, sessions, httpapi.Config{
		APIKeyHash:   cfg.APIKeyHash,
		HistoryLimit: cfg.SnapshotLimit,
		Logger:       logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slogger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slogger.Info("shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	sessions.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Warn("HTTP shutdown incomplete", "error", err)
	}

	<-dispatchDone
	<-notifierDone
	return nil
}

// slogLevel maps the configured level name; unknown names mean info.
func slogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
