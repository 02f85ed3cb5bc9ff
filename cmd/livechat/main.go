package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/astanek/livechat-relay/internal/config"
	"github.com/astanek/livechat-relay/internal/server"
	"github.com/astanek/livechat-relay/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "livechat:", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: "livechat-relay",
	})

	s, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	return s.Run(context.Background())
}
