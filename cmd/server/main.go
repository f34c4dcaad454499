// Package main provides the entry point for the Basalt warehouse server
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/basalt-works/basalt/domain/graph"
	"github.com/basalt-works/basalt/domain/health"
	"github.com/basalt-works/basalt/domain/imports"
	"github.com/basalt-works/basalt/domain/ontology"
	"github.com/basalt-works/basalt/domain/scheduler"
	"github.com/basalt-works/basalt/domain/snapshot"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/database"
	"github.com/basalt-works/basalt/internal/migrate"
	"github.com/basalt-works/basalt/internal/server"
	"github.com/basalt-works/basalt/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,

		// Domain modules
		health.Module,
		ontology.Module,
		snapshot.Module,
		graph.Module,
		imports.Module,

		// Scheduler module (cron-based maintenance tasks)
		scheduler.Module,
	).Run()
}
