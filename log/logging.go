// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package log provides a public logging interface for go.opentelemetry.io/symtrace.
package log // import "go.opentelemetry.io/symtrace/log"

import (
	"log/slog"

	"go.opentelemetry.io/symtrace/internal/log"
)

// SetLevel configures the log level for the resolver's internal logger.
func SetLevel(level slog.Level) {
	log.SetLevelLogger(level)
}

// SetLogger configures the resolver's internal logger.
func SetLogger(l slog.Logger) {
	log.SetLogger(l)
}
