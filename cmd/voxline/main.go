package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/runner"
	"github.com/voxline/voxline/pkg/voxline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voxline:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	envPath := flag.String("env", ".env", "path to an optional env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := voxline.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.InitLogger(parseLevel(cfg.LogLevel)))

	engine, err := voxline.NewEngine(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	lr := runner.NewLifecycleRunner(drainFunc(engine.Shutdown), runner.Hooks{
		OnStart: func() {
			go func() { serveErr <- engine.Serve(ctx) }()
		},
	}, 15*time.Second)

	go func() {
		if err := <-serveErr; err != nil {
			slog.Error("gateway stopped", "error", err)
			lr.Stop()
		}
	}()

	return lr.Run(ctx)
}

type drainFunc func() error

func (f drainFunc) Drain() error { return f() }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
