// chatd - Gemini-backed chat daemon.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatd/internal/config"
	"github.com/jeranaias/chatd/internal/gemini"
	"github.com/jeranaias/chatd/internal/server"
	"github.com/jeranaias/chatd/internal/store"
)

// Version information (set at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath(), "config file path")
		addr        = flag.String("addr", "", "listen address (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatd %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	gc := gemini.NewClient(&gemini.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.GeminiTimeout(),
	})
	if !gc.IsConfigured() {
		logger.Warn("no Gemini API key configured, chat turns will fail",
			zap.String("hint", "set GEMINI_API_KEY or gemini.api_key in config"))
	}

	srv := server.NewServer(cfg, st, gc, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chatd listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("model", cfg.Gemini.Model),
			zap.Bool("auth", cfg.Auth.Enabled))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received signal", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
