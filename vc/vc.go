// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/symtrace/vc"

// Set at link time with -ldflags "-X go.opentelemetry.io/symtrace/vc.version=...".
var (
	revision       = ""
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// Revision of the build.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format, or "dev" for builds without
// link-time version information.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}
