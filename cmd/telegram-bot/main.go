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

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/logging"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/telegram"
)

func main() {
	logging.Setup()

	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		fatal("invalid bot config", err)
	}

	ctx := context.Background()

	// 2. Initialize the generator backend
	textGen, err := llm.NewTextGenerator(ctx, cfg)
	if err != nil {
		fatal("failed to create text generator", err)
	}
	if c, ok := textGen.(llm.Closer); ok {
		defer c.Close()
	}

	// 3. Initialize the SQLite database
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		fatal("failed to initialize database", err)
	}
	defer db.Close()

	// 4. Initialize the engine and the bot
	engineMetrics := metrics.NewEngineMetrics()
	engine := app.NewEngine(db, textGen, engineMetrics)

	bot, err := telegram.NewBot(cfg, engine)
	if err != nil {
		fatal("failed to initialize telegram bot", err)
	}

	// 5. Start Server with Graceful Shutdown
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)
	mux.Handle("/metrics", engineMetrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("telegram bot server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		fatal("server forced to shutdown", err)
	}

	slog.Info("server exiting")
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
