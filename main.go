package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WorldSprites/websocket-server/auth"
	"github.com/WorldSprites/websocket-server/config"
	"github.com/WorldSprites/websocket-server/metrics"
	"github.com/WorldSprites/websocket-server/relay"
	ws "github.com/WorldSprites/websocket-server/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := config.FromEnv()
	met := metrics.New(prometheus.DefaultRegisterer)
	bridge := auth.NewBridge(cfg.AuthURL, cfg.AuthTimeout)
	rel := relay.New(cfg, bridge, met)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.NewMonitor(rel, cfg.KeepAliveInterval).Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", ws.Handler(rel, cfg))
	r.Get("/health", healthHandler)
	r.Get("/stats", statsHandler(rel))
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("relay starting", "port", cfg.Port, "auth", cfg.AuthEnabled)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("relay shutting down")
	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()

	if err := server.Shutdown(sctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(rel *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, sessions := rel.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": rooms, "sessions": sessions})
	}
}
