// Command playhouse-play runs a PlayHouse Play server process: the
// stage host that accepts client connections, owns the live stage
// map, and runs application-supplied stage hooks inside single-
// threaded mailboxes.
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

const DefaultConfigPath = "config/play.yaml"

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
	cfg, err := config.LoadFromEnvOrPath("PLAYHOUSE_PLAY_CONFIG", DefaultConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Role = config.RolePlay

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("playhouse-play starting", "serverId", cfg.ServerID, "bind", cfg.BindEndpoint, "tcpPort", cfg.TCPPort)

	// Application stage types are registered here. A real deployment
	// links its own game package and passes its factories in; this
	// entrypoint ships the framework's default echo-style stage so the
	// binary is runnable standalone.
	factories := bootstrap.StageFactories{
		cfg.DefaultStageType: defaultStageFactory,
	}

	srv, err := bootstrap.New(ctx, cfg, slog.Default(), factories, nil)
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
