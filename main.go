// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// symtrace resolves instruction addresses of live processes to function
// names using the ELF symbol tables of the loaded images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	symlog "go.opentelemetry.io/symtrace/log"
	"go.opentelemetry.io/symtrace/symbolizer"
	"go.opentelemetry.io/symtrace/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

// app carries what subcommands share. sym is set after the global flags
// are parsed and before any subcommand runs.
type app struct {
	args arguments
	sym  *symbolizer.Symbolizer
	out  io.Writer
}

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:], os.Stdout)))
}

func newRootCmd(a *app) *ffcli.Command {
	return &ffcli.Command{
		Name:       "symtrace",
		ShortUsage: "symtrace [flags] <subcommand> [flags] [args]",
		ShortHelp:  "Symbol-table-only stack trace resolver for ELF processes",
		FlagSet:    newRootFlagSet(&a.args),
		Options:    rootOptions(),
		Subcommands: []*ffcli.Command{
			newResolveCmd(a),
			newModulesCmd(a),
			newSymbolsCmd(a),
			newTraceCmd(a),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

func mainWithExitCode(cliArgs []string, out io.Writer) exitCode {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	a := &app{out: out}
	root := newRootCmd(a)
	if err := root.Parse(cliArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if a.args.version {
		fmt.Fprintf(out, "%s\n", vc.Version())
		return exitSuccess
	}

	if a.args.verboseMode {
		log.SetLevel(log.DebugLevel)
		symlog.SetLevel(slog.LevelDebug)
		// Dump the arguments in debug mode.
		a.args.dump()
	}

	cfg, err := a.args.symbolizerConfig()
	if err != nil {
		return parseError("Invalid configuration: %v", err)
	}
	if a.sym, err = symbolizer.New(cfg); err != nil {
		return failure("Failed to create symbolizer: %v", err)
	}

	if err = root.Run(context.Background()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitParseError
		}
		return failure("%v", err)
	}

	if a.args.verboseMode {
		stats := a.sym.CacheStatistics()
		log.Debugf("Symbol cache: %d hits, %d misses, %d added, %d evicted",
			stats.Hit, stats.Miss, stats.Added, stats.Deleted)
	}
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
