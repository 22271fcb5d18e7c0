package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/arkanwolfshade/MythosMUD-sub022/internal/server"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/config"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/logging"
	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/world"
)

func main() {
	fs := pflag.NewFlagSet("mythosd", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	bootLogger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(bootLogger, fs)
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	var store *world.MemoryStore
	if cfg.World.Path != "" {
		store, err = world.LoadFile(cfg.World.Path, logger)
		if err != nil {
			logger.Error("Failed to load world", slog.String("path", cfg.World.Path), slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := server.NewApp(logger, ctx, cfg, store)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
