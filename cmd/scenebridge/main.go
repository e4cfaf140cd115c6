package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scenebridge/scenebridge/internal/action"
	"github.com/scenebridge/scenebridge/internal/api"
	"github.com/scenebridge/scenebridge/internal/auth"
	"github.com/scenebridge/scenebridge/internal/config"
	"github.com/scenebridge/scenebridge/internal/conn"
	"github.com/scenebridge/scenebridge/internal/handlers"
	"github.com/scenebridge/scenebridge/internal/state"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := state.NewEngine(state.Options{
		MoveSpeed:    cfg.MoveSpeed,
		TickInterval: cfg.MoveTick,
		Epsilon:      cfg.MoveEpsilon,
		Logger:       logger,
	})
	defer engine.Close()

	registry := action.NewRegistry(logger)
	handlers.RegisterBuiltins(registry, engine, &localAssets{dir: cfg.AssetDir}, &localSurface{})

	perms := auth.NewPermissionManager()
	dispatcher := action.NewDispatcher(registry, perms, cfg.APIKey, logger)
	dispatcher.SetExecuteTimeout(cfg.ActionTimeout)
	engine.SetDispatcher(dispatcher)

	opts := conn.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		AutoReconnect:  cfg.AutoReconnect,
		APIKey:         cfg.APIKey,
		Logger:         logger,
	}
	if cfg.PeerURL != "" {
		opts.Dial = conn.WebsocketDialer(cfg.PeerURL)
	}
	if cfg.PermissiveGrants {
		opts.OnAttach = func(callerID string) {
			for _, p := range handlers.DefaultCallerPermissions {
				perms.Grant(callerID, p)
			}
		}
		opts.OnDetach = perms.Forget
	}
	manager := conn.NewManager(dispatcher, opts)
	engine.SetBroadcaster(manager)

	if err := manager.Start(); err != nil {
		logger.Error("peer connection failed", "error", err)
		os.Exit(1)
	}
	defer manager.Stop()

	router := chi.NewRouter()
	api.NewHandler(engine, registry, manager, logger).Mount(router)

	server := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("scenebridge listening", "addr", cfg.Addr, "peer", cfg.PeerURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
