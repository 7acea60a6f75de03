// Command playhouse-api runs a PlayHouse Api server process: a
// stateless request/reply handler host with no stage state of its
// own, used for login, matchmaking, and other session-less endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ulala-x/playhouse-go/internal/bootstrap"
	"github.com/ulala-x/playhouse-go/internal/config"
)

const DefaultConfigPath = "config/api.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnvOrPath("PLAYHOUSE_API_CONFIG", DefaultConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Role = config.RoleApi

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("playhouse-api starting", "serverId", cfg.ServerID, "bind", cfg.BindEndpoint, "tcpPort", cfg.TCPPort)

	// Application request handlers are registered here. A real
	// deployment links its own business package and passes its
	// handlers in; this entrypoint ships a default echo handler so the
	// binary is runnable standalone.
	srv, err := bootstrap.New(ctx, cfg, slog.Default(), nil, defaultHandlers())
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	return srv.Run(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
