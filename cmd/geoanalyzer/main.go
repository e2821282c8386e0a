package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/productaiseo/backend-ai-seo/internal/config"
	"github.com/productaiseo/backend-ai-seo/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := run(*cfgPath, *envPath); err != nil {
		fmt.Fprintf(os.Stderr, "geoanalyzer: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, envPath string) error {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s failed: %v\n", envPath, err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Cloud Run injects PORT.
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port > 0 {
		cfg.Server.Port = port
	}

	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	return app.Run(ctx)
}
