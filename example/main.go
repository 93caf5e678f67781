package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	rmbg "github.com/josuedeavila/rmbg-service"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	inputPath := flag.String("in", "input.jpg", "image to process")
	outputPath := flag.String("out", "output.png", "where to write the PNG result")
	flag.Parse()

	if err := run(*configPath, *inputPath, *outputPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, inputPath, outputPath string) error {
	cfg := rmbg.DefaultConfig()
	cfg.ModelPath = "./models/u2net.onnx"
	if configPath != "" {
		var err error
		if cfg, err = rmbg.LoadConfig(configPath); err != nil {
			return err
		}
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	engine, err := rmbg.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("error opening image: %w", err)
	}

	start := time.Now()
	out, err := engine.RemoveBackgroundBytes(context.Background(), data)
	if err != nil {
		return fmt.Errorf("error removing background: %w", err)
	}
	fmt.Printf("time for removing background: %v (%s, %dx%d)\n", time.Since(start), out.Outcome, out.Width, out.Height)

	if err := os.WriteFile(outputPath, out.PNG, 0o644); err != nil {
		return fmt.Errorf("error saving image: %w", err)
	}
	return nil
}
