// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ffutop/modbus-datalogger/internal/acquire"
	"github.com/ffutop/modbus-datalogger/internal/config"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	recordFile := flag.String("record", "", "Record to this TSV file (overrides export.file)")
	flag.Parse()

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *recordFile != "" {
		cfg.Export.File = *recordFile
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus datalogger...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := acquire.NewSession(cfg)
	if err := session.Connect(ctx); err != nil {
		slog.Error("Failed to connect", "err", err)
		os.Exit(1)
	}

	if cfg.Export.File != "" {
		if err := session.StartRecording(cfg.Export.File); err != nil {
			slog.Error("Failed to start recording", "err", err)
			session.Disconnect()
			os.Exit(1)
		}
	}

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()
	if err := session.Disconnect(); err != nil {
		slog.Error("Disconnect reported errors", "err", err)
	}
	slog.Info("Goodbye.")
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
