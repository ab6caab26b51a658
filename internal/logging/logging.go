// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"log/slog"
	"os"

	"github.com/cobaltcore-dev/rebalancer/internal/conf"
)

// NewLogger builds a slog.Logger from the given logging configuration.
// main installs the result with SetDefault; the other packages log
// through slog's package-level functions.
func NewLogger(c conf.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default. Call once
// from main after loading configuration; every package in this module
// logs through that default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
