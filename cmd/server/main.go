package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pnotato/VSDocs/internal/api"
	"github.com/pnotato/VSDocs/internal/auth"
	"github.com/pnotato/VSDocs/internal/cache"
	"github.com/pnotato/VSDocs/internal/config"
	"github.com/pnotato/VSDocs/internal/db"
	"github.com/pnotato/VSDocs/internal/logging"
	"github.com/pnotato/VSDocs/internal/metrics"
	"github.com/pnotato/VSDocs/internal/retention"
	"github.com/pnotato/VSDocs/internal/room"
	"github.com/pnotato/VSDocs/internal/ws"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("db.open", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("db.ready", "path", cfg.DBPath)

	// Snapshot cache is optional; a nil cache is a no-op
	var snapshots *cache.SnapshotCache
	if cfg.RedisAddr != "" {
		snapshots, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			logger.Error("cache.connect", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer snapshots.Close()
		logger.Info("cache.ready", "addr", cfg.RedisAddr)
	}

	registry := room.NewRegistry()
	hub := ws.NewHub(logger, registry)
	go hub.Run()

	pruner := retention.New(database, logger, retention.Config{
		Interval:      cfg.RetentionInterval,
		KeepSnapshots: cfg.SnapshotKeep,
	})
	pruner.Start()
	defer pruner.Stop()

	signer := auth.New(cfg.JWTSecret)
	apiHandler := api.New(hub, registry, database, snapshots, signer, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})
	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/auth/signup", apiHandler.SignUpHandler)
	mux.HandleFunc("/api/auth/signin", apiHandler.SignInHandler)
	mux.HandleFunc("/api/auth/me", apiHandler.Auth(apiHandler.MeHandler))
	mux.HandleFunc("/api/projects", apiHandler.Auth(apiHandler.ProjectsRouter))
	mux.HandleFunc("/api/projects/", apiHandler.Auth(apiHandler.ProjectsRouter))
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.CORS(cfg.CORSAllow, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete")
}
