package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/logging"
	"family-meal-planner/internal/metrics"
)

func main() {
	logging.Setup()
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	if os.Args[1] == "migrate" {
		if err := database.RunMigrations(cfg.DatabasePath); err != nil {
			fatal("migration failed", err)
		}
		fmt.Println("Database is up to date.")
		return
	}

	textGen, err := llm.NewTextGenerator(ctx, cfg)
	if err != nil {
		fatal("failed to initialize text generator", err)
	}
	if c, ok := textGen.(llm.Closer); ok {
		defer c.Close()
	}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		fatal("failed to initialize database", err)
	}
	defer db.Close()

	engine := app.NewEngine(db, textGen, metrics.NewEngineMetrics())

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err := cmd.run(ctx, engine, os.Args[2:]); err != nil {
		fatal(os.Args[1]+" failed", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("Usage: meal-planner <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Printf("  %-20s %s\n", "migrate", "Apply database migrations")
	for _, name := range commandOrder {
		fmt.Printf("  %-20s %s\n", name, commands[name].help)
	}
}
