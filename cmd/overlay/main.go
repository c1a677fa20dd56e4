package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/HynixCorp/reach-backend-sub000/internal/achievements"
	"github.com/HynixCorp/reach-backend-sub000/internal/server"
	"github.com/HynixCorp/reach-backend-sub000/internal/session"
	"github.com/HynixCorp/reach-backend-sub000/internal/storage"
	"github.com/HynixCorp/reach-backend-sub000/pkg/config"
	"github.com/HynixCorp/reach-backend-sub000/pkg/logging"
	"github.com/HynixCorp/reach-backend-sub000/pkg/overlay"
)

func main() {
	bootLogger := logging.New("info")
	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var bridge overlay.SnapshotWriter = overlay.NopSnapshotWriter{}
	var store *storage.Store
	if cfg.Storage.Path != "" {
		store, err = storage.NewStore(cfg.Storage.Path)
		if err != nil {
			logger.Error("Failed to open storage", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Error("Failed to migrate storage", slog.Any("error", err))
			os.Exit(1)
		}
		bridge = store
	}

	hub := overlay.NewHub(logger, bridge)

	var policy overlay.AuthPolicy
	switch cfg.Server.Mode {
	case config.ModeProduction:
		policy = overlay.NewStrictAuthPolicy(cfg.Server.Auth.JWTSecret)
	default:
		policy = overlay.NewPermissiveAuthPolicy(cfg.Server.Auth.JWTSecret)
	}
	logger.Info("Auth policy selected", slog.String("mode", cfg.Server.Mode))

	sessions := session.NewRouter(logger, hub, policy)

	var achSvc *achievements.Service
	if store != nil {
		achSvc = achievements.NewService(logger, store, store, hub)
	} else {
		mem := achievements.NewMemoryStore()
		achSvc = achievements.NewService(logger, mem, mem, hub)
	}

	app := server.NewApp(logger, ctx, cfg, hub, sessions, achSvc)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
