// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a dex-api binary.
// When stderr is a terminal, uses slog.TextHandler for human-readable
// output. When stderr is piped or redirected (systemd, containers,
// CI), uses slog.JSONHandler for machine-parseable output.
//
// The development environment logs at Debug; everything else at Info.
func NewLogger(environment string) *slog.Logger {
	level := slog.LevelInfo
	if environment == "development" {
		level = slog.LevelDebug
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
