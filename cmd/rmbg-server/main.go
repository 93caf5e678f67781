package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	rmbg "github.com/josuedeavila/rmbg-service"
	"github.com/josuedeavila/rmbg-service/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := server.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = server.LoadConfig(*configPath); err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.Model.Logger = logger

	backend := rmbg.ResolveBackend(&cfg.Model)
	if backend != rmbg.BackendAvailable {
		logger.Warn("onnxruntime is not available, uploads will be refused", "library", cfg.Model.SharedLibraryPath)
	}

	remover, err := rmbg.New(&cfg.Model)
	if err != nil {
		logger.Error("failed to create background remover", "error", err)
		os.Exit(1)
	}
	defer remover.Close()

	srv, err := server.New(cfg, remover, backend, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
