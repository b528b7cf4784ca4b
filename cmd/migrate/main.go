package main

import (
	"database/sql"
	"flag"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/congo-pay/p2p_market/internal/config"
	"github.com/congo-pay/p2p_market/internal/logging"
	"github.com/congo-pay/p2p_market/migrations"
)

func main() {
	command := flag.String("command", "up", "goose command: up, down, status, reset")
	flag.Parse()

	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, "migrate")
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("ping database", "error", err)
		os.Exit(1)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("goose: set dialect", "error", err)
		os.Exit(1)
	}

	logger.Info("running migrations", "command", *command)
	if err := goose.Run(*command, db, "."); err != nil {
		logger.Error("goose migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations completed")
}
