// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "go.opentelemetry.io/symtrace/symbolizer"

import (
	"fmt"

	"github.com/ianlancetaylor/demangle"
)

// DemangleMode selects how much of a demangled C++ or Rust name is kept.
type DemangleMode string

const (
	// DemangleNone reports symbol names exactly as stored in the file.
	DemangleNone DemangleMode = "none"
	// DemangleSimplified drops parameters and template arguments.
	DemangleSimplified DemangleMode = "simplified"
	// DemangleTemplates drops parameters but keeps template arguments.
	DemangleTemplates DemangleMode = "templates"
	// DemangleFull keeps everything except clone suffixes.
	DemangleFull DemangleMode = "full"
)

var demangleOptions = map[DemangleMode][]demangle.Option{
	DemangleNone:       nil,
	DemangleSimplified: {demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams},
	DemangleTemplates:  {demangle.NoParams, demangle.NoEnclosingParams},
	DemangleFull:       {demangle.NoClones},
}

// Demangle converts name according to the mode. Names that are not mangled
// are returned unchanged.
func (d DemangleMode) Demangle(name string) string {
	if d == DemangleNone {
		return name
	}
	opts, ok := demangleOptions[d]
	if !ok {
		opts = demangleOptions[DemangleFull]
	}
	return demangle.Filter(name, opts...)
}

// Config holds the tunables of a Symbolizer.
type Config struct {
	// Demangle is one of none, simplified, templates or full. Empty means full.
	Demangle DemangleMode
	// SymbolCacheSize is the number of symbol tables kept across image map
	// rebuilds. Zero disables the cache.
	SymbolCacheSize uint32
}

// DefaultConfig returns the configuration used by the CLI unless overridden.
func DefaultConfig() Config {
	return Config{
		Demangle:        DemangleFull,
		SymbolCacheSize: 256,
	}
}

// Validate checks the configuration for unknown values.
func (c *Config) Validate() error {
	if c.Demangle == "" {
		return nil
	}
	if _, ok := demangleOptions[c.Demangle]; !ok {
		return fmt.Errorf("unknown demangle mode %q (want none, simplified, templates or full)",
			c.Demangle)
	}
	return nil
}
