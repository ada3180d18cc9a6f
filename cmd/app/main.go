package main

import (
	"flag"
	"log"
	"os"

	"MarketPull/internal/di"
	"MarketPull/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("starting: env=%s backend=%s categories=%d relays=%d",
		cfg.Environment, cfg.Backend.Type, len(cfg.Providers), len(cfg.Engine.Relays))

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Blocks until SIGINT/SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
