// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/symtrace/symbolizer"
)

const (
	// Default values for CLI flags
	defaultArgDemangle        = string(symbolizer.DemangleFull)
	defaultArgSymbolCacheSize = 256
	defaultArgMaxFrames       = 32
)

// Help strings for command line arguments
var (
	configHelp          = "Optional configuration file with one 'flag value' pair per line."
	demangleHelp        = "Demangling of C++ and Rust names: none, simplified, templates or full."
	symbolCacheSizeHelp = "Number of symbol tables kept across image map rebuilds. 0 disables it."
	verboseModeHelp     = "Enable verbose logging."
	versionHelp         = "Show version."
	pidHelp             = "PID of the process to inspect. 0 means this process."
	rawHelp             = "Attribute addresses to images without symbolizing them."
	jsonHelp            = "Write JSON instead of text."
	maxFramesHelp       = "Maximum number of frames to capture."
	loadSymbolsHelp     = "Load symbol tables and report their sizes."
	biasHelp            = "Load bias added to symbol values of position-independent files."
)

// arguments holds the global flags shared by all subcommands.
type arguments struct {
	demangle        string
	symbolCacheSize uint
	verboseMode     bool
	version         bool

	fs *flag.FlagSet
}

func newRootFlagSet(args *arguments) *flag.FlagSet {
	fs := flag.NewFlagSet("symtrace", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.String("config", "", configHelp)
	fs.StringVar(&args.demangle, "demangle", defaultArgDemangle, demangleHelp)
	fs.UintVar(&args.symbolCacheSize, "symbol-cache-size", defaultArgSymbolCacheSize,
		symbolCacheSizeHelp)
	fs.BoolVar(&args.verboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.verboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.version, "version", false, versionHelp)

	args.fs = fs
	return fs
}

// rootOptions makes every global flag settable through SYMTRACE_* environment
// variables and an optional plain configuration file.
func rootOptions() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix("SYMTRACE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	}
}

func (args *arguments) symbolizerConfig() (symbolizer.Config, error) {
	if args.symbolCacheSize > uint(^uint32(0)) {
		return symbolizer.Config{}, fmt.Errorf("symbol-cache-size %d out of range",
			args.symbolCacheSize)
	}
	cfg := symbolizer.Config{
		Demangle:        symbolizer.DemangleMode(args.demangle),
		SymbolCacheSize: uint32(args.symbolCacheSize),
	}
	return cfg, cfg.Validate()
}

// dump logs all global flags. Used in verbose mode.
func (args *arguments) dump() {
	log.Debug("Config:")
	args.fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}
