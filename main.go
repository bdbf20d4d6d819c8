package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/linwei/chartline/errors"
	"github.com/linwei/chartline/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	logCfg := zap.NewProductionConfig()
	logCfg.Level = logLevel
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	errors.SetLogger(logger)

	srv, err := server.NewServer(*configPath, logger, logLevel)
	if err != nil {
		logger.Fatal("Failed to initialize server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Server error", zap.Error(err))
	}
}
