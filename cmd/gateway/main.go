// Command gateway runs the chat gateway: it consumes candidate messages from
// the ingest stream, moderates them, republishes the survivors on the
// firehose, and fans them out to WebSocket viewers.
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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/itsDarianNgo/Chatter/internal/bus"
	"github.com/itsDarianNgo/Chatter/internal/config"
	"github.com/itsDarianNgo/Chatter/internal/gateway"
	"github.com/itsDarianNgo/Chatter/internal/health"
	"github.com/itsDarianNgo/Chatter/internal/observe"
	"github.com/itsDarianNgo/Chatter/internal/safety"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/gateway.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rooms, err := config.LoadRooms(cfg.RoomConfigPath)
	if err != nil {
		logger.Error("failed to load rooms", "path", cfg.RoomConfigPath, "err", err)
		return 1
	}

	rules := safety.DefaultRules()
	if cfg.ModerationRulesPath != "" {
		rules, err = safety.LoadRules(cfg.ModerationRulesPath)
		if err != nil {
			logger.Error("failed to load moderation rules", "path", cfg.ModerationRulesPath, "err", err)
			return 1
		}
	}
	filter, err := safety.NewFilter(rules)
	if err != nil {
		logger.Error("failed to build moderation filter", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "chat-gateway"})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Error("failed to create metrics", "err", err)
		return 1
	}

	b, err := bus.NewRedis(cfg.Bus.RedisURL, logger)
	if err != nil {
		logger.Error("failed to connect to the bus", "err", err)
		return 1
	}
	defer b.Close()

	consumer := consumerName("gateway")
	hub := gateway.NewHub(metrics)
	ws := gateway.NewWSHandler(hub, rooms, logger)
	broadcaster := gateway.NewBroadcaster(cfg.Bus, consumer, b, filter, rooms, hub, metrics, logger)

	ready := health.Checker{Name: "bus", Check: b.Ping}
	srv := gateway.NewServer(cfg.Server.ListenAddr, ws, broadcaster, ready, metrics, logger)

	logger.Info("gateway starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"consumer", consumer,
		"rooms", len(rooms))

	errCh := make(chan error, 2)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("broadcaster: %w", err)
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	exit := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("fatal error", "err", err)
		exit = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "err", err)
	}
	logger.Info("gateway stopped")
	return exit
}

// consumerName derives a stable-enough consumer-group member name from the
// hostname, with a random suffix so replicas on one host never collide.
func consumerName(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", service, host, uuid.NewString()[:8])
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
