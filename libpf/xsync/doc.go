// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package xsync provides thin wrappers around locking primitives that tie a
// lock to the data it protects: a compute-once cell for lazily loaded symbol
// tables and a read-write mutex for the module cache.
package xsync // import "go.opentelemetry.io/symtrace/libpf/xsync"
