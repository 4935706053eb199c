package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/config"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/logging"
	"github.com/spf13/cobra"
)

// fatalf prints an error and exits, as every command does on failure.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads the configuration with the root persistent flags
// applied on top.
func loadConfig(cmd *cobra.Command) *config.Config {
	file, _ := cmd.Flags().GetString("config")
	opts := config.Options{File: file}

	v := config.New(opts)
	if f := cmd.Flags().Lookup("dsn"); f != nil {
		if err := v.BindPFlag("database.dsn", f); err != nil {
			fatalf("failed to bind --dsn: %v", err)
		}
	}

	cfg, err := config.Load(v, opts)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// openDB opens the configured store and makes sure the schema exists.
func openDB(cfg *config.Config) *db.DB {
	database, err := db.OpenWithOptions(cfg.Database.DSN, db.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		fatalf("failed to open database: %v", err)
	}
	if err := database.InitSchemaContext(context.Background()); err != nil {
		_ = database.Close()
		fatalf("failed to initialize schema: %v", err)
	}
	return database
}

// openCache connects to Redis when configured. A connection failure is
// logged and the command continues uncached.
func openCache(cfg *config.Config, logger *log.Logger) cache.Cache {
	if cfg.Redis.URL == "" {
		return cache.Noop()
	}
	c, err := cache.NewRedis(cfg.Redis.URL, cfg.Redis.TTL, logger)
	if err != nil {
		logger.Printf("Warning: Failed to initialize Redis: %v", err)
		logger.Println("Continuing without Redis cache...")
		return cache.Noop()
	}
	return c
}

// newLogging builds the logger factory for long-running commands.
func newLogging(cfg *config.Config) *logging.Factory {
	return logging.New(cfg.Log)
}
