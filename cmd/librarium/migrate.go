package main

import (
	"context"
	"fmt"
	"log/slog"

	"librarium/internal/config"
	"librarium/internal/store"
)

// runMigrate applies or reverts schema migrations:
//
//	librarium migrate up
//	librarium migrate down
//
// Opening the database applies every pending migration, so "up" only has to
// connect. "down" reverts the most recently applied one.
func runMigrate(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	if len(args) != 1 || (args[0] != "up" && args[0] != "down") {
		return fmt.Errorf("usage: librarium migrate up|down")
	}

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	if args[0] == "down" {
		if err := db.RollbackLast(ctx); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		logger.Info("rolled back latest migration", "driver", cfg.Database.Driver)
		return nil
	}
	logger.Info("migrations applied", "driver", cfg.Database.Driver)
	return nil
}
